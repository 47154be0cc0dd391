package lumen

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"unsafe"
)

// Native is a callable entry point. The pointer identity of a *Native is its
// address: two entries sharing a *Native collide even if they name different
// identities.
type Native struct {
	Fn func(p *Process, args []Term) Term
}

// NewNative wraps fn as an entry point with a fresh address.
func NewNative(fn func(p *Process, args []Term) Term) *Native {
	return &Native{Fn: fn}
}

// Addr returns the address used for reverse lookups and dumps.
func (n *Native) Addr() uintptr { return uintptr(unsafe.Pointer(n)) }

// FunctionSymbol is one raw entry supplied by the code-generation layer.
type FunctionSymbol struct {
	Module   string
	Function string
	Arity    uint8
	Native   *Native
}

// MFA returns the identity of the entry.
func (s FunctionSymbol) MFA() MFA {
	return MFA{Module: s.Module, Function: s.Function, Arity: s.Arity}
}

// SymbolTable maps function identities to native entry points. It is built
// once and never mutated afterwards, so concurrent lookups need no locking.
type SymbolTable struct {
	functions map[MFA]*Native
	idents    map[*Native]*MFA
	arena     []MFA
}

// NewSymbolTable builds a table from raw entries. Identities are copied into a
// single arena so the table does not retain the input slice.
func NewSymbolTable(entries []FunctionSymbol) (*SymbolTable, error) {
	if entries == nil {
		return nil, ErrNilSymbolTable
	}
	t := &SymbolTable{
		functions: make(map[MFA]*Native, len(entries)),
		idents:    make(map[*Native]*MFA, len(entries)),
		arena:     make([]MFA, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Native == nil || e.Native.Fn == nil {
			return nil, fmt.Errorf("symbol %s has no native entry point", e.MFA())
		}
		mfa := e.MFA()
		if _, dup := t.functions[mfa]; dup {
			return nil, &DuplicateSymbolError{MFA: mfa}
		}
		if prev, dup := t.idents[e.Native]; dup {
			return nil, &DuplicateSymbolError{MFA: mfa, Existing: *prev, Address: true}
		}
		t.arena = append(t.arena, mfa)
		key := &t.arena[len(t.arena)-1]
		t.functions[*key] = e.Native
		t.idents[e.Native] = key
	}
	return t, nil
}

// Lookup returns the native bound to mfa.
func (t *SymbolTable) Lookup(mfa MFA) (*Native, bool) {
	n, ok := t.functions[mfa]
	return n, ok
}

// ReverseLookup returns the identity a native was registered under.
func (t *SymbolTable) ReverseLookup(n *Native) (MFA, bool) {
	m, ok := t.idents[n]
	if !ok {
		return MFA{}, false
	}
	return *m, true
}

// Len returns the number of registered identities.
func (t *SymbolTable) Len() int { return len(t.arena) }

// Identities returns the registered identities sorted by their string form.
func (t *SymbolTable) Identities() []MFA {
	out := append([]MFA(nil), t.arena...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Dump writes every registered identity and its address to w.
func (t *SymbolTable) Dump(w io.Writer) {
	fmt.Fprintf(w, "START SymbolTable at %p\n", t)
	for _, m := range t.Identities() {
		fmt.Fprintf(w, "%s => %#x\n", m, t.functions[m].Addr())
	}
	fmt.Fprintln(w, "END SymbolTable")
}

// Apply dispatches to the native bound to mfa on behalf of p. An unresolvable
// identity, or an argument count that does not match the arity, yields an
// *UndefError.
func (t *SymbolTable) Apply(p *Process, mfa MFA, args []Term) (Term, error) {
	if len(args) != int(mfa.Arity) {
		return nil, &UndefError{MFA: mfa, Args: args}
	}
	n, ok := t.Lookup(mfa)
	if !ok {
		return nil, &UndefError{MFA: mfa, Args: args}
	}
	if p != nil {
		p.setCurrentMFA(mfa)
	}
	return n.Fn(p, args), nil
}

// process-wide table, written once at startup
var symbols atomic.Pointer[SymbolTable]

// InitializeSymbolTable builds the process-wide table. It must be called once,
// before any scheduler resolves an entry point.
func InitializeSymbolTable(entries []FunctionSymbol) error {
	t, err := NewSymbolTable(entries)
	if err != nil {
		return err
	}
	if !symbols.CompareAndSwap(nil, t) {
		return ErrSymbolTableInitialized
	}
	return nil
}

// Symbols returns the process-wide table. Calling it before
// InitializeSymbolTable is a fatal invariant violation.
func Symbols() *SymbolTable {
	t := symbols.Load()
	invariant(t != nil, "InitializeSymbolTable not called before symbol lookup")
	return t
}

// Lookup resolves mfa through the process-wide table.
func Lookup(mfa MFA) (*Native, bool) {
	return Symbols().Lookup(mfa)
}

// DumpSymbols writes the process-wide table to w.
func DumpSymbols(w io.Writer) {
	Symbols().Dump(w)
}
