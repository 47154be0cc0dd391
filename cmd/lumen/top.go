package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/xyproto/vt"
	"go.uber.org/zap"

	"github.com/justincjohnson/lumen"
	"github.com/justincjohnson/lumen/internal/boot"
)

const topRefresh = 200 * time.Millisecond

// -----------------------------------------------------------------------------
// top
// -----------------------------------------------------------------------------

func cmdTop(args []string) int {
	cfg, files, code := loadConfig("top", args)
	if code != 0 {
		return code
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s top [flags] <file.lisp>...\n", appName)
		return 2
	}

	// log lines would tear the dashboard
	i := boot.New(boot.Params{Config: cfg, Files: files, Global: true, Logger: zap.NewNop()})
	defer func() { _ = i.Shutdown() }()

	rt, err := boot.Runtime(i)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exc, err := runToCompletion(ctx, rt, cfg, func(finished <-chan struct{}) {
		watch(rt, finished, cancel)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	return reportInit(exc, zap.NewNop())
}

// watch redraws the scheduler table until the runtime stops. Pressing q
// cancels the run.
func watch(rt *lumen.Runtime, finished <-chan struct{}, cancel func()) {
	tty, err := vt.NewTTY()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: no terminal, running without the dashboard: %v\n", appName, err)
		<-finished
		return
	}
	defer tty.Close()

	vt.Init()
	defer func() {
		vt.Close()
		fmt.Print(vt.Stop())
		fmt.Println()
	}()

	c := vt.NewCanvas()
	c.HideCursor()
	tty.SetTimeout(20 * time.Millisecond)

	quit := make(chan struct{})
	stopKeys := make(chan struct{})
	defer close(stopKeys)
	go func() {
		for {
			select {
			case <-stopKeys:
				return
			default:
			}
			if k := tty.CustomString(); k == "q" || k == "Q" {
				close(quit)
				return
			}
		}
	}()

	start := time.Now()
	ticker := time.NewTicker(topRefresh)
	defer ticker.Stop()
	for {
		drawStats(c, rt.Stats(), time.Since(start))
		select {
		case <-finished:
			return
		case <-quit:
			cancel()
			<-finished
			return
		case <-ticker.C:
		}
	}
}

func drawStats(c *vt.Canvas, stats []lumen.SchedulerStats, elapsed time.Duration) {
	c.Clear()
	w, h := c.Size()
	line := func(y uint, fg vt.AttributeColor, s string) {
		if y >= h {
			return
		}
		if uint(len(s)) > w {
			s = s[:w]
		}
		c.WriteString(0, y, fg, vt.DefaultBackground, s)
	}

	var runnable, waiting int
	var spawned, exited uint64
	for _, st := range stats {
		runnable += st.Runnable()
		waiting += st.Waiting
		spawned += st.Spawned
		exited += st.Exited
	}

	line(0, vt.White, fmt.Sprintf("lumen %s  schedulers %d  up %s  (q quits)", lumen.Version, len(stats), elapsed.Truncate(time.Second)))
	line(1, vt.LightGray, fmt.Sprintf("runnable %d  waiting %d  spawned %d  exited %d", runnable, waiting, spawned, exited))
	line(3, vt.Cyan, statsHeader())
	for i, st := range stats {
		fg := vt.LightGray
		switch {
		case st.Runnable() > 0:
			fg = vt.LightGreen
		case st.Waiting > 0:
			fg = vt.Yellow
		}
		line(uint(4+i), fg, statsRow(st))
	}
	c.Draw()
}

func statsHeader() string {
	return fmt.Sprintf("%-14s %6s %6s %6s %6s %8s %6s %9s %9s", "SCHEDULER", "MAX", "HIGH", "NORMAL", "LOW", "WAITING", "TIMERS", "SPAWNED", "EXITED")
}

func statsRow(st lumen.SchedulerStats) string {
	timers := "-"
	if st.Timers {
		timers = "armed"
	}
	return fmt.Sprintf("%-14s %6d %6d %6d %6d %8d %6s %9d %9d",
		st.ID,
		st.RunQueues[lumen.PriorityMax],
		st.RunQueues[lumen.PriorityHigh],
		st.RunQueues[lumen.PriorityNormal],
		st.RunQueues[lumen.PriorityLow],
		st.Waiting, timers, st.Spawned, st.Exited)
}

// formatStats renders the same table as plain text.
func formatStats(stats []lumen.SchedulerStats) string {
	var b strings.Builder
	b.WriteString(statsHeader())
	b.WriteByte('\n')
	for _, st := range stats {
		b.WriteString(statsRow(st))
		b.WriteByte('\n')
	}
	return b.String()
}
