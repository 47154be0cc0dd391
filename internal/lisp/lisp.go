// Package lisp loads process code written in Lisp and exposes it as symbol
// table entries.
//
// A module is one source file evaluated in its own frame below the golisp
// global frame. It names the functions other processes may enter with an
// export form:
//
//	(export (start 0) (loop 1))
//
//	(define (start self) (loop self 3))
//	(define (loop self n) ...)
//
// Every exported function receives the running process as an extra first
// argument, so an export of arity N is defined with N+1 parameters. The process
// handle is what the primitives in primitives.go (process-yield, process-sleep,
// spawn and the rest) operate on.
package lisp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/steelseries/golisp"

	"github.com/justincjohnson/lumen"
)

// Module is one loaded source file.
type Module struct {
	Name    string
	env     *golisp.SymbolTableFrame
	exports []export
}

type export struct {
	name  string
	arity uint8
}

// Loader collects modules. Module names are unique within a loader.
type Loader struct {
	modules map[string]*Module
}

// NewLoader returns an empty loader.
func NewLoader() *Loader {
	installPrimitives()
	return &Loader{modules: make(map[string]*Module)}
}

// registry of frames currently being loaded, so that the export form can find
// its module
var (
	loadingMu sync.Mutex
	loading   = map[*golisp.SymbolTableFrame]*Module{}
)

// Load evaluates src as module name.
func (l *Loader) Load(name, src string) (*Module, error) {
	if name == "" {
		return nil, fmt.Errorf("lisp: module name is empty")
	}
	if _, ok := l.modules[name]; ok {
		return nil, fmt.Errorf("lisp: module %s already loaded", name)
	}

	m := &Module{Name: name, env: golisp.NewSymbolTableFrameBelow(golisp.Global, name)}
	loadingMu.Lock()
	loading[m.env] = m
	loadingMu.Unlock()
	defer func() {
		loadingMu.Lock()
		delete(loading, m.env)
		loadingMu.Unlock()
	}()

	if _, err := golisp.ParseAndEvalAllInEnvironment(src, m.env); err != nil {
		return nil, fmt.Errorf("lisp: load %s: %w", name, err)
	}
	for _, e := range m.exports {
		if fn := m.env.ValueOf(golisp.Intern(e.name)); !golisp.FunctionOrPrimitiveP(fn) {
			return nil, fmt.Errorf("lisp: %s exports %s/%d but does not define it", name, e.name, e.arity)
		}
	}
	l.modules[name] = m
	return m, nil
}

// LoadFile loads path as the module named after its base name.
func (l *Loader) LoadFile(path string) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lisp: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return l.Load(name, string(src))
}

// Modules returns the loaded module names in sorted order.
func (l *Loader) Modules() []string {
	names := make([]string, 0, len(l.modules))
	for n := range l.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Symbols returns one symbol table entry per export of every loaded module.
// Each call creates fresh natives.
func (l *Loader) Symbols() []lumen.FunctionSymbol {
	var out []lumen.FunctionSymbol
	for _, name := range l.Modules() {
		m := l.modules[name]
		for _, e := range m.exports {
			out = append(out, lumen.FunctionSymbol{
				Module:   m.Name,
				Function: e.name,
				Arity:    e.arity,
				Native:   m.native(e),
			})
		}
	}
	return out
}

// Eval evaluates src outside any process in module's frame, or in a scratch
// frame if module is empty, and prints the result.
func (l *Loader) Eval(module, src string) (string, error) {
	env := golisp.Global
	if module != "" {
		m, ok := l.modules[module]
		if !ok {
			return "", fmt.Errorf("lisp: no module %s", module)
		}
		env = m.env
	}
	v, err := golisp.ParseAndEvalAllInEnvironment(src, golisp.NewSymbolTableFrameBelow(env, "eval"))
	if err != nil {
		return "", err
	}
	return golisp.String(v), nil
}

// native wraps an exported function. The Lisp function is looked up on every
// call so that redefinitions take effect.
func (m *Module) native(e export) *lumen.Native {
	mfa := lumen.MFA{Module: m.Name, Function: e.name, Arity: e.arity}
	return lumen.NewNative(func(p *lumen.Process, args []lumen.Term) lumen.Term {
		fn := m.env.ValueOf(golisp.Intern(e.name))
		items := make([]*golisp.Data, 0, len(args)+1)
		items = append(items, processData(p))
		for _, a := range args {
			items = append(items, toData(a))
		}
		ret, err := golisp.ApplyWithoutEval(fn, golisp.ArrayToList(items), m.env)
		if err != nil {
			panic(fmt.Errorf("%s: %w", mfa, err))
		}
		return toTerm(ret)
	})
}

// exportImpl implements (export (name arity) ...).
func exportImpl(args *golisp.Data, env *golisp.SymbolTableFrame) (*golisp.Data, error) {
	loadingMu.Lock()
	m, ok := loading[env]
	loadingMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("export is only allowed at the top level of a module")
	}
	for c := args; golisp.NotNilP(c); c = golisp.Cdr(c) {
		spec := golisp.Car(c)
		name, arity := golisp.Car(spec), golisp.Cadr(spec)
		if !golisp.SymbolP(name) || !golisp.IntegerP(arity) {
			return nil, fmt.Errorf("export expects (name arity) pairs, received %s", golisp.String(spec))
		}
		n := golisp.IntegerValue(arity)
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("export %s: arity %d out of range", golisp.StringValue(name), n)
		}
		m.exports = append(m.exports, export{name: golisp.StringValue(name), arity: uint8(n)})
	}
	return golisp.EmptyCons(), nil
}
