package lumen

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Pid is an opaque process identifier, unique for the life of the OS process.
type Pid uint64

func (p Pid) String() string { return fmt.Sprintf("<0.%d.0>", uint64(p)) }

var lastPid atomic.Uint64

// Priority orders processes in the run queues. Higher priorities always run
// first.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityMax

	numPriorities = int(PriorityMax) + 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityMax:
		return "max"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority accepts the names printed by Priority.String.
func ParsePriority(s string) (Priority, error) {
	for p := PriorityLow; p <= PriorityMax; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Status is the life-cycle state of a process.
type Status uint8

const (
	StatusRunnable Status = iota
	StatusRunning
	StatusWaiting
	StatusExiting
)

func (s Status) String() string {
	switch s {
	case StatusRunnable:
		return "runnable"
	case StatusRunning:
		return "running"
	case StatusWaiting:
		return "waiting"
	case StatusExiting:
		return "exiting"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MaxReductions is the work budget of one time slice. Bump yields once the
// running process has consumed it.
const MaxReductions = 20

// Process is a lightweight unit of execution owned by one Scheduler.
//
// Everything except the status, the current MFA, the reduction total and the
// pending exit signal is only touched by the owning scheduler's thread.
type Process struct {
	pid        Pid
	priority   Priority
	parent     *Process
	initialMFA MFA
	args       []Term
	heap       Heap

	scheduler   *Scheduler
	schedulerID atomic.Uint64

	mu         sync.Mutex
	status     Status
	exception  *Exception
	currentMFA MFA

	ctx execContext

	totalReductions atomic.Uint64
	pendingExit     atomic.Pointer[Exception]

	// guarded by the owning scheduler's run queue lock
	queued  bool
	waiting bool
	onCPU   bool
	skipped bool

	finalized bool

	// exit requested by the process itself, recorded while its stack unwinds
	unwinding *Exception
}

// exitUnwind is the panic Exit and observed signals unwind the process stack
// with. The entry trampoline recovers it and exits with p.unwinding.
type exitUnwind struct{}

// NewProcess creates an unscheduled process that will enter mfa with args.
func NewProcess(priority Priority, parent *Process, mfa MFA, args []Term, heap Heap) *Process {
	return &Process{
		pid:        Pid(lastPid.Add(1)),
		priority:   priority,
		parent:     parent,
		initialMFA: mfa,
		currentMFA: mfa,
		args:       args,
		heap:       heap,
		status:     StatusRunnable,
	}
}

func (p *Process) Pid() Pid { return p.pid }
func (p *Process) Priority() Priority { return p.priority }
func (p *Process) Parent() *Process { return p.parent }
func (p *Process) InitialMFA() MFA { return p.initialMFA }
func (p *Process) Heap() Heap { return p.heap }
func (p *Process) TotalReductions() uint64 { return p.totalReductions.Load() }

// SchedulerID returns the id of the owning scheduler, or 0 if unscheduled.
func (p *Process) SchedulerID() ID { return ID(p.schedulerID.Load()) }

// Scheduler is the ambient scheduler handle of the process. Subsystems that
// need scheduler services from inside a process reach them through here.
func (p *Process) Scheduler() *Scheduler { return p.scheduler }

// Status returns the current life-cycle state.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Exception returns the exit payload once the process is Exiting.
func (p *Process) Exception() *Exception {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exception
}

// IsExiting reports whether the process reached its terminal state.
func (p *Process) IsExiting() bool { return p.Status() == StatusExiting }

// CurrentMFA is the function the process is currently running.
func (p *Process) CurrentMFA() MFA {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentMFA
}

func (p *Process) String() string {
	return fmt.Sprintf("%s %s [%s]", p.pid, p.CurrentMFA(), p.Status())
}

func (p *Process) setCurrentMFA(m MFA) {
	p.mu.Lock()
	p.currentMFA = m
	p.mu.Unlock()
}

// setStatus moves the process to s. Exiting is terminal: the call is refused
// once the process is exiting.
func (p *Process) setStatus(s Status) bool {
	invariant(s != StatusExiting, "use exit to enter the exiting state")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusExiting {
		return false
	}
	p.status = s
	return true
}

// swapStatus moves from one non-terminal state to another if the process is
// currently in from.
func (p *Process) swapStatus(from, to Status) bool {
	invariant(to != StatusExiting, "use exit to enter the exiting state")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != from || p.status == StatusExiting {
		return false
	}
	p.status = to
	return true
}

// exit records exc and marks the process Exiting. Only the first exit wins.
func (p *Process) exit(exc *Exception) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusExiting {
		return false
	}
	p.status = StatusExiting
	p.exception = exc
	return true
}

func (p *Process) addReductions(n uint64) {
	p.totalReductions.Add(n)
}

func (p *Process) scheduleWith(s *Scheduler) {
	p.scheduler = s
	p.schedulerID.Store(uint64(s.id))
}

// Signal delivers an exit signal from any thread. The target observes it at
// its next yield point, or is drained when its scheduler next dequeues it.
func (p *Process) Signal(exc *Exception) {
	if p.IsExiting() || !p.pendingExit.CompareAndSwap(nil, exc) {
		return
	}
	if p.Status() == StatusWaiting {
		StopWaiting(p)
	}
}

/* ---------------------------------------------------------------------------
   Primitives called by the process itself, on its own execution context.
   --------------------------------------------------------------------------- */

// Yield gives up the rest of the time slice. The process stays Runnable.
func (p *Process) Yield() {
	s := p.mustBeCurrent("Yield")
	s.processYield(false)
	p.observeSignals()
}

// Wait blocks the process until StopWaiting is called for it.
func (p *Process) Wait() {
	s := p.mustBeCurrent("Wait")
	// Publish Waiting before checking for a signal; Signal stores the signal
	// before checking for Waiting, so one of the two always sees the other.
	if p.swapStatus(StatusRunning, StatusWaiting) {
		if p.pendingExit.Load() != nil {
			p.swapStatus(StatusWaiting, StatusRunning)
		} else {
			// a pass that only drains an exiting process returns without
			// switching; keep yielding until something wakes us
			for p.Status() == StatusWaiting {
				s.processYield(false)
			}
			p.swapStatus(StatusRunnable, StatusRunning)
		}
	}
	p.observeSignals()
}

// Sleep waits for at least d, driven by the scheduler's timers.
func (p *Process) Sleep(d time.Duration) {
	s := p.mustBeCurrent("Sleep")
	ref := s.timers.Start(d, p)
	defer s.timers.Cancel(ref)
	p.Wait()
}

// Exit terminates the process with reason. It does not return: the stack
// unwinds, running deferred calls while the process still holds its
// scheduler, and the process then exits.
func (p *Process) Exit(reason Term) {
	p.mustBeCurrent("Exit")
	p.unwind(ExitException(reason))
}

// Bump charges n reductions to the running slice and yields once the slice
// budget is spent. It reports whether it yielded.
func (p *Process) Bump(n uint64) bool {
	s := p.mustBeCurrent("Bump")
	s.reductions.Add(n)
	if s.reductions.Load() < MaxReductions {
		return false
	}
	p.Yield()
	return true
}

// Apply dispatches to mfa through the scheduler's symbol table, recording it as
// the current function.
func (p *Process) Apply(mfa MFA, args []Term) (Term, error) {
	s := p.mustBeCurrent("Apply")
	return s.Symbols().Apply(p, mfa, args)
}

func (p *Process) mustBeCurrent(op string) *Scheduler {
	if p.ctx.killed {
		// a killed process is unwinding on its killer's time; it may not
		// block or dispatch again
		panic(killUnwind{})
	}
	s := p.scheduler
	invariant(s != nil && s.current == p, "%s called by %s while it is not the current process", op, p.pid)
	return s
}

// observeSignals turns a pending exit signal into an exit of the running
// process.
func (p *Process) observeSignals() {
	if exc := p.pendingExit.Swap(nil); exc != nil {
		p.unwind(exc)
	}
}

// unwind starts the exit of the running process. The first exit requested
// wins; a second one, from a deferred call, only keeps unwinding.
func (p *Process) unwind(exc *Exception) {
	if p.unwinding == nil {
		p.unwinding = exc
	}
	panic(exitUnwind{})
}
