package lumen

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func noop(*Process, []Term) Term { return nil }

func Test_Symbols_LookupAndReverseLookup(t *testing.T) {
	f := sym("m", "f", 1, noop)
	g := sym("m", "g", 0, noop)
	table, err := NewSymbolTable([]FunctionSymbol{f, g})
	if err != nil {
		t.Fatal(err)
	}

	n, ok := table.Lookup(f.MFA())
	if !ok || n != f.Native {
		t.Fatal("m:f/1 should resolve to its native")
	}
	if _, ok := table.Lookup(MFA{Module: "m", Function: "f", Arity: 2}); ok {
		t.Fatal("arity is part of the identity")
	}
	if _, ok := table.Lookup(MFA{Module: "m", Function: "x"}); ok {
		t.Fatal("unknown identity should not resolve")
	}
	if m, ok := table.ReverseLookup(g.Native); !ok || m != g.MFA() {
		t.Fatalf("reverse lookup of m:g/0 returned %s", m)
	}
	if _, ok := table.ReverseLookup(NewNative(noop)); ok {
		t.Fatal("unregistered native should not reverse-resolve")
	}
	if table.Len() != 2 {
		t.Fatalf("want 2 entries, got %d", table.Len())
	}
}

func Test_Symbols_EmptyTable(t *testing.T) {
	table, err := NewSymbolTable([]FunctionSymbol{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := table.Lookup(DefaultInitMFA); ok || table.Len() != 0 {
		t.Fatal("empty table should resolve nothing")
	}
}

func Test_Symbols_Errors(t *testing.T) {
	if _, err := NewSymbolTable(nil); !errors.Is(err, ErrNilSymbolTable) {
		t.Fatalf("nil entries: want ErrNilSymbolTable, got %v", err)
	}

	f := sym("m", "f", 0, noop)
	var dup *DuplicateSymbolError
	_, err := NewSymbolTable([]FunctionSymbol{f, sym("m", "f", 0, noop)})
	if !errors.As(err, &dup) || dup.Address {
		t.Fatalf("want identity collision, got %v", err)
	}

	alias := FunctionSymbol{Module: "m", Function: "alias", Native: f.Native}
	_, err = NewSymbolTable([]FunctionSymbol{f, alias})
	if !errors.As(err, &dup) || !dup.Address || dup.Existing != f.MFA() {
		t.Fatalf("want address collision with m:f/0, got %v", err)
	}

	if _, err := NewSymbolTable([]FunctionSymbol{{Module: "m", Function: "nil"}}); err == nil {
		t.Fatal("entry without a native should be rejected")
	}
}

func Test_Symbols_TableDoesNotRetainInput(t *testing.T) {
	entries := []FunctionSymbol{sym("m", "f", 0, noop)}
	table, err := NewSymbolTable(entries)
	if err != nil {
		t.Fatal(err)
	}
	entries[0].Function = "changed"
	if _, ok := table.Lookup(MFA{Module: "m", Function: "f"}); !ok {
		t.Fatal("mutating the input changed the table")
	}
}

func Test_Symbols_Apply(t *testing.T) {
	table, err := NewSymbolTable([]FunctionSymbol{sym("m", "add", 2, func(_ *Process, args []Term) Term {
		return args[0].(int) + args[1].(int)
	})})
	if err != nil {
		t.Fatal(err)
	}
	add := MFA{Module: "m", Function: "add", Arity: 2}
	got, err := table.Apply(nil, add, []Term{2, 3})
	if err != nil || got != 5 {
		t.Fatalf("want 5, got %v (%v)", got, err)
	}

	var ue *UndefError
	if _, err := table.Apply(nil, add, []Term{1}); !errors.As(err, &ue) {
		t.Fatalf("arity mismatch: want *UndefError, got %v", err)
	}
	if _, err := table.Apply(nil, MFA{Module: "m", Function: "sub", Arity: 1}, []Term{1}); !errors.As(err, &ue) || ue.MFA.Function != "sub" {
		t.Fatalf("missing function: want *UndefError, got %v", err)
	}
}

func Test_Symbols_Dump(t *testing.T) {
	table, err := NewSymbolTable([]FunctionSymbol{sym("b", "f", 0, noop), sym("a", "g", 1, noop)})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	table.Dump(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("want 4 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "START SymbolTable") || lines[3] != "END SymbolTable" {
		t.Fatalf("dump should be framed, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "a:g/1 => 0x") || !strings.HasPrefix(lines[2], "b:f/0 => 0x") {
		t.Fatalf("dump should be sorted, got %q", buf.String())
	}
}

func Test_Symbols_GlobalInitializeOnce(t *testing.T) {
	prev := symbols.Swap(nil)
	t.Cleanup(func() { symbols.Store(prev) })

	f := sym("m", "f", 0, noop)
	if err := InitializeSymbolTable([]FunctionSymbol{f}); err != nil {
		t.Fatal(err)
	}
	if n, ok := Lookup(f.MFA()); !ok || n != f.Native {
		t.Fatal("global lookup should resolve the initialized table")
	}
	if err := InitializeSymbolTable([]FunctionSymbol{sym("m", "g", 0, noop)}); !errors.Is(err, ErrSymbolTableInitialized) {
		t.Fatalf("second initialization: want ErrSymbolTableInitialized, got %v", err)
	}
	if _, ok := Lookup(MFA{Module: "m", Function: "g"}); ok {
		t.Fatal("failed initialization replaced the table")
	}

	var buf bytes.Buffer
	DumpSymbols(&buf)
	mustContain(t, buf.String(), "m:f/0 => ")
}

func Test_Symbols_GlobalUninitializedIsFatal(t *testing.T) {
	prev := symbols.Swap(nil)
	t.Cleanup(func() { symbols.Store(prev) })

	defer func() {
		if _, ok := recover().(invariantError); !ok {
			t.Fatal("lookup before initialization should violate an invariant")
		}
	}()
	Lookup(DefaultInitMFA)
}

func Test_Symbols_SchedulerFallsBackToGlobalTable(t *testing.T) {
	prev := symbols.Swap(nil)
	t.Cleanup(func() { symbols.Store(prev) })

	if err := InitializeSymbolTable([]FunctionSymbol{sym("init", "start", 0, func(*Process, []Term) Term { return Atom("global") })}); err != nil {
		t.Fatal(err)
	}
	s := newTestScheduler(t, Options{Symbols: Symbols()})
	s.symbols = nil
	p, err := s.SpawnInit(0)
	if err != nil {
		t.Fatal(err)
	}
	runAll(t, s)
	wantExit(t, p, Atom("global"))
}
