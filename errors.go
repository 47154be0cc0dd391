// errors.go: error taxonomy of the process execution core
//
// What this file does
// -------------------
// Declares every error the core hands back to a caller. The categories are:
//
//   - Fatal initialization errors (symbol table double-init, nil entry table,
//     colliding identities or addresses). Startup must abort on these.
//   - Resource exhaustion (heap allocation during spawn). Returned to the
//     caller of spawn; the scheduler keeps running.
//   - Unresolvable dispatch (`*UndefError` from Apply, `*SymbolError` when a
//     process's own entry point cannot be resolved at spawn time).
//
// Process faults are not errors in this sense: they are absorbed into the
// process's own `*Exception` (term.go) and surfaced through the exit logger and
// propagator. Invariant violations panic.
package lumen

import (
	"errors"
	"fmt"
)

/* ===========================
   PUBLIC API
   =========================== */

var (
	// ErrSymbolTableInitialized is returned by InitializeSymbolTable on every
	// call after the first successful one.
	ErrSymbolTableInitialized = errors.New("symbol table already initialized")

	// ErrNilSymbolTable is returned when the raw entry table is missing.
	ErrNilSymbolTable = errors.New("symbol table entries are nil")

	// ErrHeapExhausted is wrapped by *AllocError.
	ErrHeapExhausted = errors.New("heap exhausted")

	// ErrSchedulerStopped is returned by operations on a scheduler after Shutdown.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// DuplicateSymbolError reports a collision while building a symbol table.
// Exactly one of the two collisions is described: either the identity was
// already bound, or the native address was already registered under another
// identity.
type DuplicateSymbolError struct {
	MFA      MFA
	Existing MFA // set for an address collision
	Address  bool
}

func (e *DuplicateSymbolError) Error() string {
	if e.Address {
		return fmt.Sprintf("duplicate symbol address: %s is already registered as %s", e.MFA, e.Existing)
	}
	return fmt.Sprintf("duplicate symbol identity: %s", e.MFA)
}

// SymbolError is raised when a process's own entry point cannot be resolved
// through the symbol table.
type SymbolError struct {
	MFA MFA
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("invalid mfa (%s) provided for process: no such symbol found", e.MFA)
}

// UndefError is the recoverable result of dispatching to an identity that has
// no symbol table entry.
type UndefError struct {
	MFA  MFA
	Args []Term
}

func (e *UndefError) Error() string {
	return fmt.Sprintf("undef: %s called with %d argument(s)", e.MFA, len(e.Args))
}

// Term converts the error into the exit reason a process dies with.
func (e *UndefError) Term() Term {
	return Tuple{AtomUndef, e.MFA, e.Args}
}

// AllocError reports a failed heap allocation.
type AllocError struct {
	Words int
	Limit int
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("cannot allocate heap of %d words (limit %d): %v", e.Words, e.Limit, ErrHeapExhausted)
}

func (e *AllocError) Unwrap() error { return ErrHeapExhausted }

//// END_OF_PUBLIC

/* ===========================
   PRIVATE: invariant helpers
   =========================== */

// invariantError is the panic value of an invariant violation. The process
// fault trap lets it through so that it aborts the program instead of becoming
// an ordinary process exit.
type invariantError string

func (e invariantError) Error() string { return string(e) }

// invariant panics with a formatted message. Invariant violations mean
// scheduler state is corrupt; there is nothing to recover.
func invariant(ok bool, format string, args ...any) {
	if !ok {
		panic(invariantError(fmt.Sprintf("lumen: invariant violated: "+format, args...)))
	}
}
