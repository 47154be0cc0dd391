package lisp

import (
	"fmt"
	"sync"
	"time"

	"github.com/steelseries/golisp"

	"github.com/justincjohnson/lumen"
)

var primitivesOnce sync.Once

// installPrimitives registers the process primitives in the golisp global
// frame. Every primitive takes the process handle as its first argument and
// must be called from that process.
func installPrimitives() {
	primitivesOnce.Do(func() {
		golisp.MakeSpecialForm("export", "*", exportImpl)

		golisp.MakePrimitiveFunction("process-yield", "1", yieldImpl)
		golisp.MakePrimitiveFunction("process-wait", "1", waitImpl)
		golisp.MakePrimitiveFunction("process-sleep", "2", sleepImpl)
		golisp.MakePrimitiveFunction("process-exit", "2", exitImpl)
		golisp.MakePrimitiveFunction("process-bump", "1|2", bumpImpl)
		golisp.MakePrimitiveFunction("process-pid", "1", selfPidImpl)
		golisp.MakePrimitiveFunction("process-reductions", "1", reductionsImpl)
		golisp.MakePrimitiveFunction("unique-integer", "1", uniqueIntegerImpl)
		golisp.MakePrimitiveFunction("apply-mfa", ">=2", applyMFAImpl)
		golisp.MakePrimitiveFunction("spawn", ">=2", spawnImpl(false))
		golisp.MakePrimitiveFunction("spawn-link", ">=2", spawnImpl(true))
	})
}

func selfArg(args *golisp.Data) (*lumen.Process, error) {
	return dataProcess(golisp.Car(args))
}

func yieldImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	p.Yield()
	return golisp.EmptyCons(), nil
}

func waitImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	p.Wait()
	return golisp.EmptyCons(), nil
}

// (process-sleep self milliseconds)
func sleepImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	ms := golisp.Cadr(args)
	if !golisp.IntegerP(ms) {
		return nil, fmt.Errorf("process-sleep expects milliseconds, received %s", golisp.String(ms))
	}
	p.Sleep(time.Duration(golisp.IntegerValue(ms)) * time.Millisecond)
	return golisp.EmptyCons(), nil
}

// (process-exit self reason)
func exitImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	p.Exit(toTerm(golisp.Cadr(args)))
	return nil, nil
}

// (process-bump self [n]) charges n reductions (default 1) and returns
// whether the process yielded.
func bumpImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	n := int64(1)
	if d := golisp.Cadr(args); golisp.NotNilP(d) {
		if !golisp.IntegerP(d) || golisp.IntegerValue(d) < 0 {
			return nil, fmt.Errorf("process-bump expects a non-negative integer, received %s", golisp.String(d))
		}
		n = golisp.IntegerValue(d)
	}
	return golisp.BooleanWithValue(p.Bump(uint64(n))), nil
}

func selfPidImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	return golisp.IntegerWithValue(int64(p.Pid())), nil
}

func reductionsImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	return golisp.IntegerWithValue(int64(p.TotalReductions())), nil
}

func uniqueIntegerImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	return golisp.IntegerWithValue(int64(p.Scheduler().NextUniqueInteger())), nil
}

// (apply-mfa self "m:f/a" args...)
func applyMFAImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	p, err := selfArg(args)
	if err != nil {
		return nil, err
	}
	mfa, rest, err := mfaArgs(golisp.Cdr(args))
	if err != nil {
		return nil, err
	}
	ret, err := p.Apply(mfa, rest)
	if err != nil {
		return nil, err
	}
	return toData(ret), nil
}

// (spawn self "m:f/a" args...) returns the pid of the child, which runs on the
// caller's scheduler.
func spawnImpl(link bool) func(*golisp.Data, *golisp.SymbolTableFrame) (*golisp.Data, error) {
	return func(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
		p, err := selfArg(args)
		if err != nil {
			return nil, err
		}
		mfa, rest, err := mfaArgs(golisp.Cdr(args))
		if err != nil {
			return nil, err
		}
		opts := lumen.DefaultSpawnOptions()
		opts.Priority = p.Priority()
		opts.Link = link
		child, err := p.Scheduler().SpawnApply(p, mfa, rest, opts)
		if err != nil {
			return nil, err
		}
		return golisp.IntegerWithValue(int64(child.Pid())), nil
	}
}

func mfaArgs(args *golisp.Data) (lumen.MFA, []lumen.Term, error) {
	first := golisp.Car(args)
	if !golisp.StringP(first) {
		return lumen.MFA{}, nil, fmt.Errorf("expected \"module:function/arity\", received %s", golisp.String(first))
	}
	mfa, err := lumen.ParseMFA(golisp.StringValue(first))
	if err != nil {
		return lumen.MFA{}, nil, err
	}
	var rest []lumen.Term
	for c := golisp.Cdr(args); golisp.NotNilP(c); c = golisp.Cdr(c) {
		rest = append(rest, toTerm(golisp.Car(c)))
	}
	return mfa, rest, nil
}
