package lumen

import (
	"errors"
	"strings"
	"testing"
)

func mustContain(t *testing.T, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Fatalf("expected output to contain %q\n--- output ---\n%s", sub, s)
	}
}

func Test_Errors_SymbolErrorNamesTheIdentity(t *testing.T) {
	err := error(&SymbolError{MFA: MFA{Module: "init", Function: "start"}})
	mustContain(t, err.Error(), "invalid mfa (init:start/0)")
	mustContain(t, err.Error(), "no such symbol found")
}

func Test_Errors_DuplicateSymbol(t *testing.T) {
	id := &DuplicateSymbolError{MFA: MFA{Module: "m", Function: "f", Arity: 1}}
	mustContain(t, id.Error(), "duplicate symbol identity: m:f/1")

	addr := &DuplicateSymbolError{MFA: MFA{Module: "m", Function: "g"}, Existing: MFA{Module: "m", Function: "f"}, Address: true}
	mustContain(t, addr.Error(), "m:g/0 is already registered as m:f/0")
}

func Test_Errors_UndefTerm(t *testing.T) {
	mfa := MFA{Module: "m", Function: "f", Arity: 2}
	err := &UndefError{MFA: mfa, Args: []Term{1, 2}}
	mustContain(t, err.Error(), "undef: m:f/2 called with 2 argument(s)")
	tup, ok := err.Term().(Tuple)
	if !ok || len(tup) != 3 || tup[0] != AtomUndef || tup[1] != mfa {
		t.Fatalf("unexpected undef term %s", FormatTerm(err.Term()))
	}
}

func Test_Errors_AllocErrorWrapsHeapExhausted(t *testing.T) {
	err := error(&AllocError{Words: 377, Limit: 300})
	if !errors.Is(err, ErrHeapExhausted) {
		t.Fatal("AllocError should unwrap to ErrHeapExhausted")
	}
	mustContain(t, err.Error(), "cannot allocate heap of 377 words (limit 300)")
}

func Test_Errors_InvariantPanicsWithInvariantError(t *testing.T) {
	defer func() {
		r := recover()
		ie, ok := r.(invariantError)
		if !ok {
			t.Fatalf("want invariantError, got %T", r)
		}
		mustContain(t, ie.Error(), "lumen: invariant violated: broken 42")
	}()
	invariant(false, "broken %d", 42)
}

func Test_Exception_IsNormal(t *testing.T) {
	cases := []struct {
		exc  *Exception
		want bool
	}{
		{nil, true},
		{ExitException(AtomNormal), true},
		{ExitException(AtomShutdown), true},
		{ExitException(AtomKilled), false},
		{ExitException("normal"), false},
		{ErrorException(AtomNormal, nil), false},
		{&Exception{Class: ClassThrow, Reason: AtomNormal}, false},
	}
	for _, c := range cases {
		if got := c.exc.IsNormal(); got != c.want {
			t.Errorf("%v: want %v, got %v", c.exc, c.want, got)
		}
	}
}

func Test_Exception_ErrorShowsClassReasonAndTrace(t *testing.T) {
	src := errors.New("bad thing")
	trace := strings.Repeat("frame\n", 40)
	exc := &Exception{Class: ClassError, Reason: Tuple{Atom("badarg"), 1}, Source: src, Trace: trace}
	msg := exc.Error()
	mustContain(t, msg, "error: {badarg, 1} (bad thing)")
	mustContain(t, msg, "... 28 more lines")
	if !errors.Is(exc, src) {
		t.Fatal("Exception should unwrap to its source")
	}
}

func Test_Term_Format(t *testing.T) {
	got := FormatTerm(Tuple{AtomUndef, MFA{Module: "a", Function: "b"}, []Term{"x", nil}})
	if want := `{undef, a:b/0, ["x", []]}`; got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}
