package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/justincjohnson/lumen"
	"github.com/justincjohnson/lumen/internal/boot"
	"github.com/justincjohnson/lumen/internal/config"
	"github.com/justincjohnson/lumen/internal/lisp"
)

const (
	promptMain = "lumen> "
	promptCont = "  ...> "
)

var (
	banner   = fmt.Sprintf("lumen %s REPL\nCtrl+C cancels input, Ctrl+D exits. Type :help for commands.", lumen.Version)
	helpText = `
REPL commands:
  :spawn m:f/a [priority] [args...]   Spawn a process (priority: low, normal, high, max)
  :init                               Spawn the init process
  :step [n]                           Run n scheduler passes (default 1)
  :run                                Run until the scheduler is idle
  :ps                                 List processes spawned here
  :queues                             Show run queue lengths
  :symbols                            Dump the symbol table
  :quit                               Exit the REPL
Anything else is evaluated as Lisp outside any process.
`
)

// prompter is the part of *liner.State the REPL needs. A plain reader stands
// in for it when stdin is not a terminal.
type prompter interface {
	Prompt(prompt string) (string, error)
}

type plainPrompter struct{ sc *bufio.Scanner }

func (p plainPrompter) Prompt(string) (string, error) {
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.sc.Text(), nil
}

// -----------------------------------------------------------------------------
// repl
// -----------------------------------------------------------------------------

func cmdRepl(args []string) int {
	cfg, files, code := loadConfig("repl", args)
	if code != 0 {
		return code
	}
	cfg.Schedulers = 1

	i := boot.New(boot.Params{Config: cfg, Files: files, Global: true})
	defer func() { _ = i.Shutdown() }()

	rt, err := boot.Runtime(i)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	loader, err := boot.Loader(i)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}

	var in prompter
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println(banner)
		ln := liner.NewLiner()
		defer ln.Close()
		ln.SetCtrlCAborts(true)
		if f, err := os.Open(cfg.HistoryFile); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(cfg.HistoryFile); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}()
		in = &historyPrompter{ln: ln}
	} else {
		in = plainPrompter{sc: bufio.NewScanner(os.Stdin)}
	}

	r := &repl{rt: rt, sched: rt.Schedulers()[0], cfg: cfg, loader: loader, out: os.Stdout}
	defer func() { _ = rt.Shutdown() }()

	for {
		src, ok := readBalanced(in)
		if !ok {
			fmt.Println()
			return 0
		}
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if src == ":quit" {
			return 0
		}
		if err := r.handle(src); err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
		}
	}
}

type historyPrompter struct{ ln *liner.State }

func (h *historyPrompter) Prompt(prompt string) (string, error) {
	line, err := h.ln.Prompt(prompt)
	if err == nil && strings.TrimSpace(line) != "" {
		h.ln.AppendHistory(line)
	}
	return line, err
}

// readBalanced reads lines until the parentheses outside string literals
// balance.
func readBalanced(in prompter) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := in.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if parenDepth(b.String()) <= 0 {
			return b.String(), true
		}
	}
}

func parenDepth(src string) int {
	depth, inStr := 0, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inStr {
			switch c {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}

// repl holds the state of one session. It drives the scheduler directly from
// the REPL goroutine, which acts as the root process.
type repl struct {
	rt     *lumen.Runtime
	sched  *lumen.Scheduler
	cfg    *config.Config
	loader *lisp.Loader
	procs  []*lumen.Process
	out    io.Writer
}

func (r *repl) handle(src string) error {
	if !strings.HasPrefix(src, ":") {
		v, err := r.loader.Eval("", src)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, blue(v))
		return nil
	}

	fields := strings.Fields(src)
	switch fields[0] {
	case ":help":
		fmt.Fprint(r.out, helpText)
	case ":spawn":
		return r.spawn(fields[1:])
	case ":init":
		p, err := r.sched.SpawnInit(r.cfg.MinHeapSize)
		if err != nil {
			return err
		}
		r.procs = append(r.procs, p)
		fmt.Fprintln(r.out, p.Pid())
	case ":step":
		n := 1
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v < 1 {
				return fmt.Errorf(":step expects a positive count, got %q", fields[1])
			}
			n = v
		}
		ran := 0
		for ; ran < n && r.sched.RunOnce(); ran++ {
		}
		fmt.Fprintf(r.out, "%d pass(es) run\n", ran)
	case ":run":
		if err := r.sched.Run(context.Background()); err != nil {
			return err
		}
		fmt.Fprintln(r.out, green("idle"))
	case ":ps":
		r.ps()
	case ":queues":
		fmt.Fprint(r.out, formatStats(r.rt.Stats()))
	case ":symbols":
		r.sched.Symbols().Dump(r.out)
	default:
		return fmt.Errorf("unknown command %s, type :help", fields[0])
	}
	return nil
}

func (r *repl) spawn(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: :spawn m:f/a [priority] [args...]")
	}
	mfa, err := lumen.ParseMFA(args[0])
	if err != nil {
		return err
	}
	opts := lumen.DefaultSpawnOptions()
	rest := args[1:]
	if len(rest) > 0 {
		if prio, err := lumen.ParsePriority(rest[0]); err == nil {
			opts.Priority = prio
			rest = rest[1:]
		}
	}
	terms := make([]lumen.Term, 0, len(rest))
	for _, a := range rest {
		terms = append(terms, parseArg(a))
	}
	p, err := r.sched.SpawnApply(nil, mfa, terms, opts)
	if err != nil {
		return err
	}
	r.procs = append(r.procs, p)
	fmt.Fprintln(r.out, p.Pid())
	return nil
}

// parseArg reads an integer, a "string" or an atom.
func parseArg(s string) lumen.Term {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if uq, err := strconv.Unquote(s); err == nil {
		return uq
	}
	return lumen.Atom(s)
}

func (r *repl) ps() {
	fmt.Fprintf(r.out, "%-12s %-28s %-9s %10s  %s\n", "PID", "MFA", "STATUS", "REDUCTIONS", "EXIT")
	for _, p := range r.procs {
		exit := ""
		if exc := p.Exception(); exc != nil {
			exit = exc.Error()
		}
		fmt.Fprintf(r.out, "%-12s %-28s %-9s %10d  %s\n", p.Pid(), p.CurrentMFA(), p.Status(), p.TotalReductions(), exit)
	}
}
