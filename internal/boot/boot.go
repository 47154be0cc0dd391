// Package boot assembles a runtime from configuration and Lisp sources.
//
// Every collaborator is a provider in a do.Injector, so commands pull only
// what they need: `lumen symbols` never builds schedulers, `lumen run` gets the
// whole graph.
package boot

import (
	"fmt"

	"github.com/samber/do"
	"go.uber.org/zap"

	"github.com/justincjohnson/lumen"
	"github.com/justincjohnson/lumen/internal/config"
	"github.com/justincjohnson/lumen/internal/lisp"
)

// Params are the inputs of the graph.
type Params struct {
	Config *config.Config
	Files  []string
	// Global installs the symbol table as the process-wide table. At most one
	// graph per process may set it.
	Global bool
	// Logger overrides the logger built from Config.
	Logger *zap.Logger
}

// New registers every provider. Nothing is built until it is invoked.
func New(p Params) *do.Injector {
	i := do.New()
	do.ProvideValue(i, p)
	do.Provide(i, provideLogger)
	do.Provide(i, provideLoader)
	do.Provide(i, provideSymbols)
	do.Provide(i, provideLinks)
	do.Provide(i, provideAllocator)
	do.Provide(i, provideRuntime)
	return i
}

// Runtime builds (or returns the already built) runtime.
func Runtime(i *do.Injector) (*lumen.Runtime, error) {
	return do.Invoke[*lumen.Runtime](i)
}

// Symbols builds (or returns the already built) symbol table.
func Symbols(i *do.Injector) (*lumen.SymbolTable, error) {
	return do.Invoke[*lumen.SymbolTable](i)
}

// Loader returns the loader holding every loaded module.
func Loader(i *do.Injector) (*lisp.Loader, error) {
	return do.Invoke[*lisp.Loader](i)
}

// Logger returns the graph's logger.
func Logger(i *do.Injector) *zap.Logger {
	return do.MustInvoke[*zap.Logger](i)
}

func provideLogger(i *do.Injector) (*zap.Logger, error) {
	p := do.MustInvoke[Params](i)
	if p.Logger != nil {
		return p.Logger, nil
	}
	return p.Config.Logger()
}

func provideLoader(i *do.Injector) (*lisp.Loader, error) {
	p := do.MustInvoke[Params](i)
	log := do.MustInvoke[*zap.Logger](i)
	l := lisp.NewLoader()
	for _, f := range p.Files {
		m, err := l.LoadFile(f)
		if err != nil {
			return nil, err
		}
		log.Debug("loaded module", zap.String("module", m.Name), zap.String("file", f))
	}
	return l, nil
}

func provideSymbols(i *do.Injector) (*lumen.SymbolTable, error) {
	p := do.MustInvoke[Params](i)
	l, err := do.Invoke[*lisp.Loader](i)
	if err != nil {
		return nil, err
	}
	entries := append(lumen.BuiltinSymbols(), l.Symbols()...)
	if !p.Global {
		return lumen.NewSymbolTable(entries)
	}
	if err := lumen.InitializeSymbolTable(entries); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	return lumen.Symbols(), nil
}

func provideLinks(i *do.Injector) (*lumen.LinkTable, error) {
	return lumen.NewLinkTable(), nil
}

func provideAllocator(i *do.Injector) (lumen.Allocator, error) {
	p := do.MustInvoke[Params](i)
	return lumen.HeapAllocator{Max: p.Config.MaxHeapSize}, nil
}

func provideRuntime(i *do.Injector) (*lumen.Runtime, error) {
	p := do.MustInvoke[Params](i)
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	symbols, err := do.Invoke[*lumen.SymbolTable](i)
	if err != nil {
		return nil, err
	}
	return lumen.NewRuntime(lumen.RuntimeOptions{
		Schedulers: p.Config.Schedulers,
		Scheduler: lumen.Options{
			Symbols:    symbols,
			Allocator:  do.MustInvoke[lumen.Allocator](i),
			Propagator: do.MustInvoke[*lumen.LinkTable](i),
			InitMFA:    p.Config.InitMFA,
			Logger:     do.MustInvoke[*zap.Logger](i),
		},
	})
}

