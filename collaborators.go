package lumen

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// The scheduler depends on these narrow contracts. Defaults live next to
// them; hosts replace them through Options.

// Allocator hands out process heaps.
type Allocator interface {
	Allocate(words int) (Heap, error)
}

// TimerService is the timer hierarchy a scheduler services at the top of every
// pass of its loop. Firing a timer wakes the waiting process.
type TimerService interface {
	Timeout()
	Start(d time.Duration, p *Process) TimerRef
	Cancel(ref TimerRef) bool
	Next() (time.Time, bool)
}

// ExitLogger records that a process exited.
type ExitLogger interface {
	LogExit(p *Process, exc *Exception)
}

// ExitPropagator notifies the processes linked to or monitoring an exiting
// process.
type ExitPropagator interface {
	Propagate(p *Process, exc *Exception)
}

// ReductionCounter accumulates the work done by the running process. The
// scheduler takes (reads and resets) it on every swap.
type ReductionCounter interface {
	Add(n uint64)
	Load() uint64
	Take() uint64
}

// ExitPropagatorFunc adapts a function to ExitPropagator.
type ExitPropagatorFunc func(p *Process, exc *Exception)

func (f ExitPropagatorFunc) Propagate(p *Process, exc *Exception) { f(p, exc) }

// ExitLoggerFunc adapts a function to ExitLogger.
type ExitLoggerFunc func(p *Process, exc *Exception)

func (f ExitLoggerFunc) LogExit(p *Process, exc *Exception) { f(p, exc) }

// Reductions is the default per-scheduler ReductionCounter.
type Reductions struct {
	n atomic.Uint64
}

func (r *Reductions) Add(n uint64) { r.n.Add(n) }
func (r *Reductions) Load() uint64 { return r.n.Load() }
func (r *Reductions) Take() uint64 { return r.n.Swap(0) }

// ZapExitLogger logs abnormal exits. Exits with reason normal or shutdown are
// not logged.
type ZapExitLogger struct {
	Log *zap.Logger
}

func (l ZapExitLogger) LogExit(p *Process, exc *Exception) {
	if exc.IsNormal() {
		return
	}
	fields := []zap.Field{
		zap.Stringer("pid", p.Pid()),
		zap.Stringer("mfa", p.CurrentMFA()),
		zap.Stringer("class", exc.Class),
		zap.String("reason", FormatTerm(exc.Reason)),
	}
	if exc.Trace != "" {
		fields = append(fields, zap.String("trace", traceHead(exc.Trace, 24)))
	}
	l.Log.Error("process exited abnormally", fields...)
}

var noPropagation = ExitPropagatorFunc(func(*Process, *Exception) {})
