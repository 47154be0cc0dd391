package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/justincjohnson/lumen"
)

type scripted []string

func (s *scripted) Prompt(string) (string, error) {
	if len(*s) == 0 {
		return "", io.EOF
	}
	line := (*s)[0]
	*s = (*s)[1:]
	return line, nil
}

func Test_REPL_ReadBalanced(t *testing.T) {
	in := &scripted{`(define (f x)`, `  ; a ")" in a comment`, `  (+ x ")"))`, `:ps`}
	src, ok := readBalanced(in)
	if !ok || !strings.HasPrefix(src, "(define") || !strings.HasSuffix(src, `")"))`) {
		t.Fatalf("want the three-line form, got %q", src)
	}
	if src, ok := readBalanced(in); !ok || src != ":ps" {
		t.Fatalf("want :ps, got %q", src)
	}
	if _, ok := readBalanced(in); ok {
		t.Fatal("EOF should end the session")
	}
}

func Test_REPL_ParenDepth(t *testing.T) {
	cases := map[string]int{
		"":          0,
		"(a (b)":    1,
		`(a "(")`:   0,
		`(a "\")")`: 0,
		"(a ; )\n":  1,
		"(a))":      -1,
	}
	for src, want := range cases {
		if got := parenDepth(src); got != want {
			t.Errorf("parenDepth(%q) = %d, want %d", src, got, want)
		}
	}
}

func Test_REPL_ParseArg(t *testing.T) {
	if v := parseArg("42"); v != int64(42) {
		t.Fatalf("want int64 42, got %#v", v)
	}
	if v := parseArg(`"hi there"`); v != "hi there" {
		t.Fatalf("want string, got %#v", v)
	}
	if v := parseArg("ok"); v != lumen.Atom("ok") {
		t.Fatalf("want atom, got %#v", v)
	}
}

func Test_REPL_Commands(t *testing.T) {
	table, err := lumen.NewSymbolTable(append(lumen.BuiltinSymbols(),
		lumen.FunctionSymbol{Module: "t", Function: "echo", Arity: 1, Native: lumen.NewNative(func(p *lumen.Process, args []lumen.Term) lumen.Term {
			p.Yield()
			return args[0]
		})},
	))
	if err != nil {
		t.Fatal(err)
	}
	rt, err := lumen.NewRuntime(lumen.RuntimeOptions{Schedulers: 1, Scheduler: lumen.Options{Symbols: table}})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rt.Shutdown() }()

	var out bytes.Buffer
	r := &repl{rt: rt, sched: rt.Schedulers()[0], out: &out}
	for _, cmd := range []string{":spawn t:echo/1 high hello", ":queues", ":step", ":run", ":ps"} {
		if err := r.handle(cmd); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	if len(r.procs) != 1 {
		t.Fatalf("want one process, got %d", len(r.procs))
	}
	exc := r.procs[0].Exception()
	if exc == nil || exc.Reason != lumen.Atom("hello") {
		t.Fatalf("echo should exit with hello, got %v", exc)
	}
	for _, want := range []string{"1 pass(es) run", "idle", "t:echo/1", "exiting"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output does not mention %q:\n%s", want, out.String())
		}
	}

	for _, bad := range []string{":spawn", ":spawn nope", ":step 0", ":bogus"} {
		if err := r.handle(bad); err == nil {
			t.Errorf("%s should fail", bad)
		}
	}
}

func Test_Top_FormatStats(t *testing.T) {
	st := lumen.SchedulerStats{ID: 7, Waiting: 2, Timers: true, Spawned: 5, Exited: 3}
	st.RunQueues[lumen.PriorityHigh] = 4
	got := formatStats([]lumen.SchedulerStats{st})
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 2 {
		t.Fatalf("want header and one row, got %q", got)
	}
	fields := strings.Fields(lines[1])
	want := []string{"scheduler#7", "0", "4", "0", "0", "2", "armed", "5", "3"}
	if strings.Join(fields, " ") != strings.Join(want, " ") {
		t.Fatalf("want %v, got %v", want, fields)
	}
}
