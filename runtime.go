// runtime.go
//
// This file runs a fixed set of schedulers, one per OS thread, over a shared
// symbol table, allocator and exit propagator. Processes never migrate: each
// stays on the scheduler it was spawned onto. New processes are spread
// round-robin; init always lands on the first scheduler.
//
// Run returns once every scheduler is idle at the same time (no runnable
// process and no armed timer anywhere), or when the context is cancelled.

package lumen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// RuntimeOptions configures NewRuntime. Scheduler is the template every
// scheduler is built from; its Timers and Reductions must be left nil because
// those are per scheduler.
type RuntimeOptions struct {
	Schedulers int
	Scheduler  Options
}

// Runtime owns a set of schedulers.
type Runtime struct {
	schedulers []*Scheduler
	next       atomic.Uint64
	log        *zap.Logger
}

// SchedulerStats is a point-in-time view of one scheduler.
type SchedulerStats struct {
	ID        ID
	RunQueues [numPriorities]int
	Waiting   int
	Timers    bool
	Spawned   uint64
	Exited    uint64
}

// Runnable sums the run queues.
func (st SchedulerStats) Runnable() int {
	n := 0
	for _, l := range st.RunQueues {
		n += l
	}
	return n
}

// NewRuntime builds opts.Schedulers schedulers (at least one).
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.Scheduler.Timers != nil || opts.Scheduler.Reductions != nil {
		return nil, fmt.Errorf("runtime: timers and reduction counters cannot be shared between schedulers")
	}
	n := opts.Schedulers
	if n < 1 {
		n = 1
	}
	log := opts.Scheduler.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{log: log}
	for i := 0; i < n; i++ {
		rt.schedulers = append(rt.schedulers, NewScheduler(opts.Scheduler))
	}
	log.Debug("runtime started", zap.Int("schedulers", n))
	return rt, nil
}

// Schedulers returns the schedulers in creation order.
func (rt *Runtime) Schedulers() []*Scheduler { return rt.schedulers }

// SpawnInit spawns the init process on the first scheduler.
func (rt *Runtime) SpawnInit(minHeapSize int) (*Process, error) {
	return rt.schedulers[0].SpawnInit(minHeapSize)
}

// SpawnApply spawns onto the next scheduler in round-robin order.
func (rt *Runtime) SpawnApply(parent *Process, mfa MFA, args []Term, opts SpawnOptions) (*Process, error) {
	i := (rt.next.Add(1) - 1) % uint64(len(rt.schedulers))
	return rt.schedulers[i].SpawnApply(parent, mfa, args, opts)
}

// Stats snapshots every scheduler.
func (rt *Runtime) Stats() []SchedulerStats {
	out := make([]SchedulerStats, 0, len(rt.schedulers))
	for _, s := range rt.schedulers {
		out = append(out, s.Stats())
	}
	return out
}

// Run drives every scheduler on its own goroutine until the whole runtime is
// quiescent or ctx is done.
func (rt *Runtime) Run(ctx context.Context) error {
	q := &quiescence{total: len(rt.schedulers), done: make(chan struct{}), schedulers: rt.schedulers}

	var wg sync.WaitGroup
	errs := make([]error, len(rt.schedulers))
	for i, s := range rt.schedulers {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = q.drive(ctx, s)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Shutdown shuts every scheduler down. Call it after Run has returned.
func (rt *Runtime) Shutdown() error {
	var errs []error
	for _, s := range rt.schedulers {
		if err := s.Shutdown(); err != nil && !errors.Is(err, ErrSchedulerStopped) {
			errs = append(errs, fmt.Errorf("%s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats snapshots the scheduler's queues and counters.
func (s *Scheduler) Stats() SchedulerStats {
	st := SchedulerStats{
		ID:      s.id,
		Spawned: s.spawned.Load(),
		Exited:  s.exited.Load(),
	}
	s.mu.Lock()
	for prio := range st.RunQueues {
		st.RunQueues[prio] = s.runQueues.RunQueueLen(Priority(prio))
	}
	st.Waiting = s.runQueues.WaitingLen()
	s.mu.Unlock()
	_, st.Timers = s.timers.Next()
	return st
}

// quiescence detects the moment every scheduler is idle at once.
type quiescence struct {
	mu         sync.Mutex
	idle       int
	total      int
	done       chan struct{}
	schedulers []*Scheduler
}

func (q *quiescence) drive(ctx context.Context, s *Scheduler) error {
	for {
		if err := s.Run(ctx); err != nil {
			return err
		}
		if q.park(s) {
			return nil
		}
		select {
		case <-q.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
			q.unpark()
		}
	}
}

// park marks s idle. It reports true once the whole runtime is idle.
func (q *quiescence) park(s *Scheduler) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.done:
		return true
	default:
	}
	q.idle++
	if q.idle < q.total {
		return false
	}
	// every enqueue happens before its scheduler is notified, so work that is
	// still queued here will unpark its owner
	for _, o := range q.schedulers {
		if st := o.Stats(); st.Runnable() > 0 || st.Timers {
			return false
		}
	}
	close(q.done)
	return true
}

func (q *quiescence) unpark() {
	q.mu.Lock()
	q.idle--
	q.mu.Unlock()
}
