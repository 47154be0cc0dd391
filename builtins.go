package lumen

import (
	"fmt"
	"time"
)

// BuiltinSymbols returns the natives every runtime provides, ready to be
// combined with generated or loaded entries. Each call returns fresh natives.
//
//	lumen:yield/0         give up the time slice
//	lumen:exit/1          exit with the given reason
//	lumen:self/0          the caller's pid
//	lumen:make_ref/0      a new scheduler-unique reference
//	lumen:unique_integer/0
//	lumen:apply/3         apply(Module, Function, Args)
//	lumen:spawn/3         spawn(Module, Function, Args) -> pid
//	timer:sleep/1         sleep for the given milliseconds
func BuiltinSymbols() []FunctionSymbol {
	return []FunctionSymbol{
		builtin("lumen", "yield", 0, func(p *Process, _ []Term) Term {
			p.Yield()
			return AtomNormal
		}),
		builtin("lumen", "exit", 1, func(p *Process, args []Term) Term {
			p.Exit(args[0])
			return nil
		}),
		builtin("lumen", "self", 0, func(p *Process, _ []Term) Term {
			return p.Pid()
		}),
		builtin("lumen", "make_ref", 0, func(p *Process, _ []Term) Term {
			return p.Scheduler().NextReference()
		}),
		builtin("lumen", "unique_integer", 0, func(p *Process, _ []Term) Term {
			return p.Scheduler().NextUniqueInteger()
		}),
		builtin("lumen", "apply", 3, func(p *Process, args []Term) Term {
			mfa, rest := mustMFAArgs(args)
			ret, err := p.Apply(mfa, rest)
			if err != nil {
				panic(err)
			}
			return ret
		}),
		builtin("lumen", "spawn", 3, func(p *Process, args []Term) Term {
			mfa, rest := mustMFAArgs(args)
			opts := DefaultSpawnOptions()
			opts.Priority = p.Priority()
			child, err := p.Scheduler().SpawnApply(p, mfa, rest, opts)
			if err != nil {
				panic(err)
			}
			return child.Pid()
		}),
		builtin("timer", "sleep", 1, func(p *Process, args []Term) Term {
			ms, ok := termInt(args[0])
			if !ok || ms < 0 {
				panic(fmt.Errorf("timer:sleep/1: bad timeout %s", FormatTerm(args[0])))
			}
			p.Sleep(time.Duration(ms) * time.Millisecond)
			return AtomNormal
		}),
	}
}

func builtin(module, function string, arity uint8, fn func(p *Process, args []Term) Term) FunctionSymbol {
	return FunctionSymbol{Module: module, Function: function, Arity: arity, Native: NewNative(fn)}
}

// mustMFAArgs decodes (Module, Function, Args) as passed to apply/3 and
// spawn/3. Names may be atoms or strings.
func mustMFAArgs(args []Term) (MFA, []Term) {
	module, ok1 := termName(args[0])
	function, ok2 := termName(args[1])
	var rest []Term
	ok3 := true
	switch v := args[2].(type) {
	case nil:
	case Tuple:
		rest = v
	case []Term:
		rest = v
	default:
		ok3 = false
	}
	if !ok1 || !ok2 || !ok3 || len(rest) > 255 {
		panic(fmt.Errorf("badarg: %s", FormatTerm(Tuple(args))))
	}
	return MFA{Module: module, Function: function, Arity: uint8(len(rest))}, rest
}

func termName(t Term) (string, bool) {
	switch v := t.(type) {
	case Atom:
		return string(v), true
	case string:
		return v, true
	default:
		return "", false
	}
}

func termInt(t Term) (int64, bool) {
	switch v := t.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	default:
		return 0, false
	}
}
