package lumen

import "runtime"

// firstSwap primes the marker slot of a freshly spawned context. Swapping into
// a context whose marker still holds it starts the entry trampoline instead of
// resuming a parked one.
const firstSwap uint64 = 0xdeadbeef

// execContext is the saved execution state of a process. Each process runs on
// its own goroutine, which is its private stack; a parked process blocks on
// resume until the scheduler hands execution back to it.
type execContext struct {
	marker uint64
	entry  *Native
	start  func()
	resume chan struct{}
	done   chan struct{}
	killed bool
}

// killUnwind is the panic a killed context unwinds its stack with. The
// process's deferred calls run while its killer waits.
type killUnwind struct{}

// prime prepares a context whose first swap-in will call start on a new stack.
func (c *execContext) prime(entry *Native, start func()) {
	c.marker = firstSwap
	c.entry = entry
	c.start = start
	c.resume = make(chan struct{}, 1)
	c.done = make(chan struct{})
}

// adopt turns the calling goroutine into the context: used for the root
// process, which runs on the thread that drives the scheduler.
func (c *execContext) adopt() {
	c.resume = make(chan struct{}, 1)
}

// started reports whether the context owns a goroutine that is parked or
// running.
func (c *execContext) started() bool {
	return c.resume != nil && c.marker != firstSwap
}

// kill wakes a parked context and blocks until its goroutine has unwound. The
// caller keeps the scheduler throughout, so the victim's deferred calls never
// overlap with another process.
func (c *execContext) kill() {
	c.killed = true
	c.resume <- struct{}{}
	<-c.done
}

// finish reports a killed context as fully unwound.
func (c *execContext) finish() {
	close(c.done)
}

// swapContext transfers execution from prev to next. It returns when prev is
// resumed. If park is false, prev is finished and its goroutine is released
// instead of parked; by then the process's own frames have unwound, so nothing
// of the process runs after the handoff.
//
// Nothing may run on prev's goroutine between handing off to next and parking:
// from that point next owns the scheduler.
func swapContext(prev, next *execContext, park bool) {
	if next.marker == firstSwap {
		next.marker = 0
		go next.start()
	} else {
		next.resume <- struct{}{}
	}
	if !park {
		runtime.Goexit()
	}
	<-prev.resume
	if prev.killed {
		panic(killUnwind{})
	}
}
