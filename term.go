package lumen

import (
	"fmt"
	"strings"
)

// Term is any runtime value. Term representation and encoding belong to the
// term layer; the scheduler only moves terms around as exit reasons, entry
// arguments and return values.
type Term = any

// Atom is an interned constant name.
type Atom string

func (a Atom) String() string { return string(a) }

// Tuple is a fixed-size group of terms.
type Tuple []Term

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, e := range t {
		parts[i] = FormatTerm(e)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

const (
	AtomNormal   Atom = "normal"
	AtomShutdown Atom = "shutdown"
	AtomKilled   Atom = "killed"
	AtomUndef    Atom = "undef"
)

// FormatTerm renders a term for diagnostics.
func FormatTerm(t Term) string {
	switch v := t.(type) {
	case nil:
		return "[]"
	case string:
		return fmt.Sprintf("%q", v)
	case []Term:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = FormatTerm(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Class is the kind of exception a process terminated with.
type Class uint8

const (
	ClassExit Class = iota
	ClassError
	ClassThrow
)

func (c Class) String() string {
	switch c {
	case ClassExit:
		return "exit"
	case ClassError:
		return "error"
	case ClassThrow:
		return "throw"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Exception is the payload of an Exiting process: why it stopped and, for
// faults, where.
type Exception struct {
	Class  Class
	Reason Term
	Trace  string
	Source error
}

// ExitException builds the exception for an explicit exit or a normal return.
func ExitException(reason Term) *Exception {
	return &Exception{Class: ClassExit, Reason: reason}
}

// ErrorException builds the exception for a runtime fault.
func ErrorException(reason Term, source error) *Exception {
	return &Exception{Class: ClassError, Reason: reason, Source: source}
}

// IsNormal reports whether the exit should be treated as a clean shutdown:
// linked processes are not signalled and the exit is not logged.
func (e *Exception) IsNormal() bool {
	if e == nil {
		return true
	}
	if e.Class != ClassExit {
		return false
	}
	r, ok := e.Reason.(Atom)
	return ok && (r == AtomNormal || r == AtomShutdown)
}

func (e *Exception) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Class, FormatTerm(e.Reason))
	if e.Source != nil {
		fmt.Fprintf(&b, " (%v)", e.Source)
	}
	if e.Trace != "" {
		b.WriteByte('\n')
		b.WriteString(traceHead(e.Trace, 12))
	}
	return b.String()
}

func (e *Exception) Unwrap() error { return e.Source }

// traceHead keeps the first n lines of a goroutine trace.
func traceHead(trace string, n int) string {
	lines := strings.Split(strings.TrimRight(trace, "\n"), "\n")
	if len(lines) > n {
		lines = append(lines[:n], fmt.Sprintf("... %d more lines", len(lines)-n))
	}
	return strings.Join(lines, "\n")
}
