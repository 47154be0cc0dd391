package lisp

import (
	"fmt"
	"unsafe"

	"github.com/steelseries/golisp"

	"github.com/justincjohnson/lumen"
)

const processType = "lumen-process"

func processData(p *lumen.Process) *golisp.Data {
	return golisp.ObjectWithTypeAndValue(processType, unsafe.Pointer(p))
}

func dataProcess(d *golisp.Data) (*lumen.Process, error) {
	if !golisp.ObjectP(d) || golisp.ObjectType(d) != processType {
		return nil, fmt.Errorf("expected a process as first argument, received %s", golisp.String(d))
	}
	return (*lumen.Process)(golisp.ObjectValue(d)), nil
}

// toData converts a term into a Lisp value.
func toData(t lumen.Term) *golisp.Data {
	switch v := t.(type) {
	case nil:
		return golisp.EmptyCons()
	case *golisp.Data:
		return v
	case bool:
		return golisp.BooleanWithValue(v)
	case int:
		return golisp.IntegerWithValue(int64(v))
	case int64:
		return golisp.IntegerWithValue(v)
	case uint64:
		return golisp.IntegerWithValue(int64(v))
	case uint8:
		return golisp.IntegerWithValue(int64(v))
	case float64:
		return golisp.FloatWithValue(float32(v))
	case string:
		return golisp.StringWithValue(v)
	case lumen.Atom:
		return golisp.Intern(string(v))
	case lumen.Pid:
		return golisp.IntegerWithValue(int64(v))
	case lumen.MFA:
		return golisp.StringWithValue(v.String())
	case lumen.Tuple:
		return listOf([]lumen.Term(v))
	case []lumen.Term:
		return listOf(v)
	default:
		return golisp.StringWithValue(lumen.FormatTerm(v))
	}
}

func listOf(ts []lumen.Term) *golisp.Data {
	items := make([]*golisp.Data, len(ts))
	for i, t := range ts {
		items[i] = toData(t)
	}
	return golisp.ArrayToList(items)
}

// toTerm converts a Lisp value into a term. Symbols become atoms and lists
// become tuples.
func toTerm(d *golisp.Data) lumen.Term {
	switch {
	case golisp.NilP(d):
		return nil
	case golisp.IntegerP(d):
		return golisp.IntegerValue(d)
	case golisp.FloatP(d):
		return float64(golisp.FloatValue(d))
	case golisp.StringP(d):
		return golisp.StringValue(d)
	case golisp.BooleanP(d):
		return golisp.BooleanValue(d)
	case golisp.SymbolP(d):
		return lumen.Atom(golisp.StringValue(d))
	case golisp.ObjectP(d) && golisp.ObjectType(d) == processType:
		return (*lumen.Process)(golisp.ObjectValue(d)).Pid()
	case golisp.ListP(d):
		items := golisp.ToArray(d)
		out := make(lumen.Tuple, len(items))
		for i, e := range items {
			out[i] = toTerm(e)
		}
		return out
	default:
		return golisp.String(d)
	}
}
