package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/justincjohnson/lumen"
	"github.com/justincjohnson/lumen/internal/boot"
	"github.com/justincjohnson/lumen/internal/config"
)

const appName = "lumen"

func red(s string) string   { return "\x1b[31m" + s + "\x1b[0m" }
func green(s string) string { return "\x1b[32m" + s + "\x1b[0m" }
func blue(s string) string  { return "\x1b[94m" + s + "\x1b[0m" }

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "repl":
		os.Exit(cmdRepl(os.Args[2:]))
	case "top":
		os.Exit(cmdTop(os.Args[2:]))
	case "symbols":
		os.Exit(cmdSymbols(os.Args[2:]))
	case "version":
		fmt.Println(lumen.Version)
		return
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Printf(`lumen %s (built %s)

Usage:
  %s run [flags] <file.lisp>...       Load modules, spawn init and run to completion.
  %s repl [flags] [file.lisp...]      Drive a single scheduler interactively.
  %s top [flags] <file.lisp>...       Run like "run" with a live scheduler view.
  %s symbols [file.lisp...]           Print the symbol table.
  %s version                          Print the compiled version

Flags (run, repl, top):
  -schedulers N    number of schedulers (env LUMEN_SCHEDULERS)
  -init m:f/a      init entry point (env LUMEN_INIT, default %s)
  -heap words      minimum init heap size (env LUMEN_MIN_HEAP)
  -log-level lvl   debug, info, warn or error (env LUMEN_LOG_LEVEL)

`, lumen.Version, lumen.BuildDate, appName, appName, appName, appName, appName, lumen.DefaultInitMFA)
}

// loadConfig reads the environment, then the sub-command's flags.
func loadConfig(name string, args []string) (*config.Config, []string, int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return nil, nil, 2
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return nil, nil, 2
	}
	return cfg, fs.Args(), 0
}

// -----------------------------------------------------------------------------
// run
// -----------------------------------------------------------------------------

func cmdRun(args []string) int {
	cfg, files, code := loadConfig("run", args)
	if code != 0 {
		return code
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s run [flags] <file.lisp>...\n", appName)
		return 2
	}

	i := boot.New(boot.Params{Config: cfg, Files: files, Global: true})
	defer func() { _ = i.Shutdown() }()

	rt, err := boot.Runtime(i)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	log := boot.Logger(i)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exc, err := runToCompletion(ctx, rt, cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	return reportInit(exc, log)
}

// runToCompletion spawns init, runs the runtime until it is quiescent and shuts
// it down. The init exception is read before shutdown, so an init still
// waiting when the runtime goes idle reports no exception.
// during, if set, runs on the calling goroutine while the runtime runs; it is
// handed a channel closed when the runtime stops.
func runToCompletion(ctx context.Context, rt *lumen.Runtime, cfg *config.Config, during func(finished <-chan struct{})) (*lumen.Exception, error) {
	initProc, err := rt.SpawnInit(cfg.MinHeapSize)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- rt.Run(ctx)
		close(finished)
	}()
	if during != nil {
		during(finished)
	}
	runErr := <-done

	exc := initProc.Exception()
	if err := rt.Shutdown(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return exc, runErr
	}
	return exc, nil
}

func reportInit(exc *lumen.Exception, log *zap.Logger) int {
	switch {
	case exc == nil:
		fmt.Fprintln(os.Stderr, red("init did not exit before the runtime went idle"))
		return 1
	case exc.IsNormal():
		fmt.Println(green(lumen.FormatTerm(exc.Reason)))
		return 0
	default:
		log.Debug("init exited abnormally", zap.Error(exc))
		fmt.Fprintln(os.Stderr, red(exc.Error()))
		return 1
	}
}

// -----------------------------------------------------------------------------
// symbols
// -----------------------------------------------------------------------------

func cmdSymbols(args []string) int {
	cfg, files, code := loadConfig("symbols", args)
	if code != 0 {
		return code
	}
	i := boot.New(boot.Params{Config: cfg, Files: files, Logger: zap.NewNop()})
	defer func() { _ = i.Shutdown() }()

	t, err := boot.Symbols(i)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	t.Dump(os.Stdout)
	return 0
}
