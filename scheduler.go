// scheduler.go: the cooperative scheduler core
//
// What this file does
// -------------------
// A Scheduler multiplexes many processes over the single OS thread that drives
// it. The driving goroutine is itself a process, the root; everything else is
// spawned onto the scheduler and entered through a trampoline that traps
// faults.
//
// Every scheduling decision is made by whoever currently holds the scheduler's
// execution, through processYield:
//
//	RunOnce (root)    -> processYield(true)
//	Yield/Wait (proc) -> processYield(false)
//	Exit/signal       -> unwind the stack -> trampoline
//	return/unwound    -> processExit -> processYield(false)
//
// processYield services the timer hierarchy, then dequeues:
//
//   - RunNow(p): p is exiting (a pending exit signal, or it exited while
//     queued) -> drain it and report true; otherwise swap into it.
//   - RunDelayed: try again.
//   - RunNone: only legal for the root (the root is always queued while a
//     process runs); report false.
//
// Swapping credits the reductions of the outgoing slice to the outgoing
// process (unless it is the root), requeues it, and hands execution over
// (context.go). An outgoing process that is exiting is logged and propagated
// exactly once and its goroutine is released instead of parked.
package lumen

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/cpu"
)

/* ===========================
   PUBLIC API
   =========================== */

// DefaultInitMFA is the entry point of the init process unless Options names
// another one.
var DefaultInitMFA = MFA{Module: "init", Function: "start", Arity: 0}

// rootMFA is the identity reported by the root process.
var rootMFA = MFA{Module: "root", Function: "init", Arity: 0}

// Runner is the capability surface of a scheduler. Code that only drives or
// feeds a scheduler depends on this rather than on *Scheduler.
type Runner interface {
	ID() ID
	RunOnce() bool
	Run(ctx context.Context) error
	Spawn(p *Process) *Process
	SpawnInit(minHeapSize int) (*Process, error)
	SpawnApply(parent *Process, mfa MFA, args []Term, opts SpawnOptions) (*Process, error)
	StopWaiting(p *Process)
	RunQueueLen(priority Priority) int
	RunQueuesLen() int
	WaitingLen() int
	NextReference() uint64
	NextUniqueInteger() uint64
	Shutdown() error
}

var _ Runner = (*Scheduler)(nil)

// Options configures a Scheduler. Nil fields get defaults.
type Options struct {
	// Symbols resolves spawn targets and Apply calls. Defaults to the
	// process-wide table, looked up on first use.
	Symbols    *SymbolTable
	Allocator  Allocator
	Timers     TimerService
	ExitLogger ExitLogger
	Propagator ExitPropagator
	Reductions ReductionCounter
	// InitMFA is the entry point of SpawnInit. Defaults to DefaultInitMFA.
	InitMFA MFA
	Logger  *zap.Logger
}

// SpawnOptions tunes SpawnApply.
type SpawnOptions struct {
	Priority    Priority
	MinHeapSize int
	// Link links the child to its parent if the scheduler's propagator
	// supports links.
	Link bool
}

// DefaultSpawnOptions spawns at normal priority with the smallest heap.
func DefaultSpawnOptions() SpawnOptions {
	return SpawnOptions{Priority: PriorityNormal, MinHeapSize: MinHeapSize}
}

// Scheduler runs processes cooperatively on one OS thread.
type Scheduler struct {
	id ID

	_              cpu.CacheLinePad
	referenceCount atomic.Uint64
	_              cpu.CacheLinePad
	uniqueInteger  atomic.Uint64
	_              cpu.CacheLinePad

	mu        sync.Mutex
	runQueues *RunQueues

	wake    chan struct{}
	stopped atomic.Bool

	spawned atomic.Uint64
	exited  atomic.Uint64

	symbols    *SymbolTable
	alloc      Allocator
	timers     TimerService
	exitLogger ExitLogger
	propagator ExitPropagator
	reductions ReductionCounter
	initMFA    MFA
	log        *zap.Logger

	root *Process
	init atomic.Pointer[Process]

	// only touched by whoever holds the scheduler's execution
	current *Process
}

// NewScheduler creates a scheduler whose root process is the calling
// goroutine. The scheduler must only be driven (RunOnce, Run, Shutdown) from
// that goroutine.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		id:         nextID(),
		runQueues:  NewRunQueues(),
		wake:       make(chan struct{}, 1),
		symbols:    opts.Symbols,
		alloc:      opts.Allocator,
		timers:     opts.Timers,
		exitLogger: opts.ExitLogger,
		propagator: opts.Propagator,
		reductions: opts.Reductions,
		initMFA:    opts.InitMFA,
		log:        opts.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.Stringer("scheduler", s.id))
	if s.alloc == nil {
		s.alloc = HeapAllocator{}
	}
	if s.timers == nil {
		s.timers = NewHierarchy(s.StopWaiting)
	}
	if s.exitLogger == nil {
		s.exitLogger = ZapExitLogger{Log: s.log}
	}
	if s.propagator == nil {
		s.propagator = noPropagation
	}
	if s.reductions == nil {
		s.reductions = &Reductions{}
	}
	if s.initMFA == (MFA{}) {
		s.initMFA = DefaultInitMFA
	}
	s.spawnRoot()
	register(s)
	return s
}

func (s *Scheduler) ID() ID { return s.id }

// Root is the process of the goroutine driving the scheduler.
func (s *Scheduler) Root() *Process { return s.root }

// Init is the process started by SpawnInit, or nil.
func (s *Scheduler) Init() *Process { return s.init.Load() }

// Current is the process holding the scheduler's execution. Only meaningful
// when called from that process.
func (s *Scheduler) Current() *Process { return s.current }

// Timers is the scheduler's timer hierarchy.
func (s *Scheduler) Timers() TimerService { return s.timers }

// Symbols is the table this scheduler resolves entry points through.
func (s *Scheduler) Symbols() *SymbolTable {
	if s.symbols != nil {
		return s.symbols
	}
	return Symbols()
}

// RunOnce runs one pass of the scheduling loop on behalf of the root. It
// returns when execution comes back to the root, reporting false if there was
// nothing to run.
func (s *Scheduler) RunOnce() bool {
	invariant(s.current == s.root, "RunOnce called while %s holds %s", s.current.pid, s.id)
	return s.processYield(true)
}

// Run drives the scheduler until it has no runnable processes and no armed
// timers, or until ctx is done. Processes left Waiting with no timer to wake
// them stay parked; another scheduler or the host may still wake them. Run pins
// the calling goroutine to its OS thread.
func (s *Scheduler) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		if s.stopped.Load() {
			return ErrSchedulerStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.RunOnce() {
			continue
		}

		next, armed := s.timers.Next()
		if !armed {
			s.log.Debug("scheduler is idle", zap.Int("waiting", s.WaitingLen()))
			return nil
		}

		if err := s.idle(ctx, next, armed); err != nil {
			return err
		}
	}
}

// idle blocks until ctx is done, a process is woken or the next timer is due.
func (s *Scheduler) idle(ctx context.Context, next time.Time, armed bool) error {
	var timeout <-chan time.Time
	if armed {
		t := time.NewTimer(time.Until(next))
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wake:
	case <-timeout:
	}
	return nil
}

// Spawn schedules p, entering its initial MFA through the symbol table. It
// panics with *SymbolError if the entry point does not resolve.
func (s *Scheduler) Spawn(p *Process) *Process {
	if err := s.spawnInternal(p); err != nil {
		panic(err)
	}
	return p
}

// Schedule schedules p with an explicit entry point, skipping symbol
// resolution.
func (s *Scheduler) Schedule(p *Process, entry *Native) *Process {
	invariant(entry != nil, "schedule of %s without an entry point", p.pid)
	s.prime(p, entry)
	return p
}

// SpawnInit allocates a heap of at least minHeapSize words and spawns the init
// process. It fails without enqueuing anything if the heap cannot be allocated
// or the init entry point does not resolve.
func (s *Scheduler) SpawnInit(minHeapSize int) (*Process, error) {
	if s.stopped.Load() {
		return nil, ErrSchedulerStopped
	}
	heap, err := s.alloc.Allocate(NextHeapSize(minHeapSize))
	if err != nil {
		return nil, fmt.Errorf("spawn init: %w", err)
	}
	p := NewProcess(PriorityNormal, nil, s.initMFA, nil, heap)
	if err := s.spawnInternal(p); err != nil {
		return nil, err
	}
	s.init.Store(p)
	return p, nil
}

// SpawnApply spawns a process that applies mfa to args. The target is resolved
// when the child first runs: if it does not resolve the child exits with
// {undef, MFA, Args}.
func (s *Scheduler) SpawnApply(parent *Process, mfa MFA, args []Term, opts SpawnOptions) (*Process, error) {
	if s.stopped.Load() {
		return nil, ErrSchedulerStopped
	}
	heap, err := s.alloc.Allocate(NextHeapSize(opts.MinHeapSize))
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", mfa, err)
	}
	p := NewProcess(opts.Priority, parent, mfa, args, heap)
	if opts.Link {
		if l, ok := s.propagator.(interface{ Link(a, b *Process) }); ok {
			l.Link(parent, p)
		}
	}
	s.prime(p, applyEntry)
	return p, nil
}

// StopWaiting makes a Waiting process runnable. Safe to call from any thread.
func (s *Scheduler) StopWaiting(p *Process) {
	s.mu.Lock()
	woke := s.runQueues.StopWaiting(p)
	s.mu.Unlock()
	if woke {
		s.notify()
	}
}

// RunQueueLen is the number of runnable processes at priority.
func (s *Scheduler) RunQueueLen(priority Priority) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runQueues.RunQueueLen(priority)
}

// RunQueuesLen is the number of runnable processes at every priority.
func (s *Scheduler) RunQueuesLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runQueues.Len()
}

// WaitingLen is the number of processes parked in Waiting.
func (s *Scheduler) WaitingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runQueues.WaitingLen()
}

// IsRunQueued reports whether p is queued or waiting on this scheduler.
func (s *Scheduler) IsRunQueued(p *Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runQueues.Contains(p)
}

// NextReference returns a new reference number, unique per scheduler. The
// first is 0.
func (s *Scheduler) NextReference() uint64 { return s.referenceCount.Add(1) - 1 }

// NextUniqueInteger returns a new integer, unique per scheduler. The first
// is 0.
func (s *Scheduler) NextUniqueInteger() uint64 { return s.uniqueInteger.Add(1) - 1 }

// Shutdown exits every process still owned by the scheduler with reason
// shutdown and releases their goroutines. It must be called by the root.
func (s *Scheduler) Shutdown() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return ErrSchedulerStopped
	}
	invariant(s.current == s.root, "Shutdown called while %s holds %s", s.current.pid, s.id)

	s.mu.Lock()
	procs := s.runQueues.drainAll()
	s.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if p == s.root {
			continue
		}
		p.exit(ExitException(AtomShutdown))
		if err := s.safeFinalize(p); err != nil {
			errs = append(errs, err)
		}
		if p.ctx.started() {
			p.ctx.kill()
		}
	}
	unregister(s.id)
	s.log.Debug("scheduler shut down", zap.Int("processes", len(procs)))
	return errors.Join(errs...)
}

//// END_OF_PUBLIC

/* ===========================
   PRIVATE: spawning
   =========================== */

// applyEntry is the entry point of every SpawnApply child.
var applyEntry = NewNative(func(p *Process, args []Term) Term {
	ret, err := p.Apply(p.initialMFA, args)
	if err != nil {
		panic(err)
	}
	return ret
})

// spawnRoot adopts the calling goroutine as the root process. The root is
// never enqueued while it holds the scheduler.
func (s *Scheduler) spawnRoot() {
	root := NewProcess(PriorityNormal, nil, rootMFA, nil, nil)
	root.scheduleWith(s)
	root.ctx.adopt()
	root.status = StatusRunning
	root.onCPU = true
	s.root = root
	s.current = root
}

func (s *Scheduler) spawnInternal(p *Process) error {
	native, ok := s.Symbols().Lookup(p.initialMFA)
	if !ok {
		return &SymbolError{MFA: p.initialMFA}
	}
	s.prime(p, native)
	return nil
}

func (s *Scheduler) prime(p *Process, entry *Native) {
	p.scheduleWith(s)
	p.ctx.prime(entry, func() { s.trampoline(p) })
	p.setStatus(StatusRunnable)

	s.mu.Lock()
	s.runQueues.Enqueue(p)
	s.mu.Unlock()
	s.spawned.Add(1)
	s.notify()
	s.log.Debug("spawned process", zap.Stringer("pid", p.pid), zap.Stringer("mfa", p.initialMFA), zap.Stringer("priority", p.priority))
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

/* ===========================
   PRIVATE: the core loop
   =========================== */

func (s *Scheduler) processYield(isRoot bool) bool {
	s.log.Debug("entering core scheduler loop", zap.Bool("root", isRoot))
	s.timers.Timeout()

	for {
		s.mu.Lock()
		next := s.runQueues.Dequeue()
		s.mu.Unlock()

		switch next.Kind {
		case RunNow:
			p := next.Process
			if exc := p.pendingExit.Swap(nil); exc != nil {
				p.exit(exc)
			}
			if p.IsExiting() {
				s.drain(p)
			} else {
				s.log.Debug("found process to schedule", zap.Stringer("pid", p.pid))
				s.swapProcess(p)
			}
			return true
		case RunDelayed:
			continue
		default:
			invariant(isRoot, "%s has no process to yield %s to", s.id, s.current.pid)
			s.log.Debug("no processes remaining to schedule, exiting loop")
			return false
		}
	}
}

// swapProcess hands execution from the current process to next. It returns
// when the outgoing process is resumed; an exiting outgoing process never
// returns.
func (s *Scheduler) swapProcess(next *Process) {
	prev := s.current
	invariant(prev != next, "swap of %s into itself", next.pid)

	next.setStatus(StatusRunning)
	s.current = next

	delta := s.reductions.Take()
	if prev != s.root {
		prev.addReductions(delta)
	}

	prev.swapStatus(StatusRunning, StatusRunnable)

	s.mu.Lock()
	prev.onCPU = false
	next.onCPU = true
	exiting := s.runQueues.Requeue(prev)
	s.mu.Unlock()

	if exiting != nil {
		s.finalize(exiting)
	}
	swapContext(&prev.ctx, &next.ctx, exiting == nil)
}

// drain disposes of a process that was dequeued already exiting. Draining
// costs one reduction.
func (s *Scheduler) drain(p *Process) {
	s.log.Debug("process is exiting", zap.Stringer("pid", p.pid))
	p.addReductions(1)

	s.mu.Lock()
	s.runQueues.remove(p)
	s.mu.Unlock()

	s.finalize(p)
	if p.ctx.started() {
		p.ctx.kill()
	}
}

// finalize logs and propagates an exit, once per process.
func (s *Scheduler) finalize(p *Process) {
	invariant(p.IsExiting(), "finalize of %s in state %s", p.pid, p.Status())
	if p.finalized {
		return
	}
	p.finalized = true
	s.exited.Add(1)
	exc := p.Exception()
	s.exitLogger.LogExit(p, exc)
	s.propagator.Propagate(p, exc)
}

// safeFinalize finalizes p on behalf of Shutdown, reporting a panicking
// collaborator as an error instead of abandoning the rest of the shutdown.
func (s *Scheduler) safeFinalize(p *Process) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finalize %s: %v", p.pid, r)
		}
	}()
	s.finalize(p)
	return nil
}

/* ===========================
   PRIVATE: process entry and exit
   =========================== */

// trampoline is the first code run on a process's goroutine. By the time the
// entry point has returned or unwound, every deferred call of the process has
// run, so the final swap out leaves nothing of the process behind. A killed
// process only reports that it has unwound; its killer owns the scheduler.
func (s *Scheduler) trampoline(p *Process) {
	ret, exc := s.trapExceptions(p)
	if p.ctx.killed {
		p.ctx.finish()
		return
	}
	if exc == nil {
		if ret == nil {
			ret = AtomNormal
		}
		exc = ExitException(ret)
	}
	s.processExit(p, exc)
}

// trapExceptions runs the entry point, converting a panic into the exception
// the process exits with. An exit requested through Exit or a signal takes
// precedence over whatever the stack unwound with. Invariant violations are
// not trapped.
func (s *Scheduler) trapExceptions(p *Process) (ret Term, exc *Exception) {
	defer func() {
		r := recover()
		if ie, ok := r.(invariantError); ok {
			panic(ie)
		}
		if p.ctx.killed {
			return
		}
		if p.unwinding != nil {
			ret, exc = nil, p.unwinding
			return
		}
		if r != nil {
			exc = exceptionFromPanic(r, string(debug.Stack()))
		}
	}()
	return p.ctx.entry.Fn(p, p.args), nil
}

func exceptionFromPanic(r any, trace string) *Exception {
	switch v := r.(type) {
	case *Exception:
		if v.Trace == "" {
			v.Trace = trace
		}
		return v
	case *UndefError:
		return &Exception{Class: ClassError, Reason: v.Term(), Trace: trace, Source: v}
	case error:
		return &Exception{Class: ClassError, Reason: v.Error(), Trace: trace, Source: v}
	default:
		return &Exception{Class: ClassError, Reason: r, Trace: trace}
	}
}

// processExit marks p exiting and gives up the scheduler for good. It is only
// called from the trampoline, once the process's frames have unwound. The
// swap out of an exiting process releases its goroutine, so this never
// returns.
func (s *Scheduler) processExit(p *Process, exc *Exception) {
	invariant(p != s.root, "the root process of %s cannot exit", s.id)
	p.exit(exc)
	for {
		s.processYield(false)
	}
}
