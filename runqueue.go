package lumen

// RunKind is the outcome of a dequeue.
type RunKind uint8

const (
	// RunNow carries a process to execute (or drain, if it is exiting).
	RunNow RunKind = iota
	// RunDelayed means a process was passed over; dequeue again.
	RunDelayed
	// RunNone means nothing is runnable.
	RunNone
)

func (k RunKind) String() string {
	switch k {
	case RunNow:
		return "now"
	case RunDelayed:
		return "delayed"
	default:
		return "none"
	}
}

// Run is the result of RunQueues.Dequeue.
type Run struct {
	Kind    RunKind
	Process *Process
}

// RunQueues is the per-scheduler set of runnable processes, one FIFO per
// priority, plus the set of processes parked in Waiting.
//
// RunQueues does no locking of its own; the owning Scheduler serializes access.
type RunQueues struct {
	queues  [numPriorities][]*Process
	waiting map[*Process]struct{}
}

// NewRunQueues returns an empty queue set.
func NewRunQueues() *RunQueues {
	return &RunQueues{waiting: make(map[*Process]struct{})}
}

// Enqueue appends p to the queue of its priority. A process is never queued
// twice.
func (rq *RunQueues) Enqueue(p *Process) {
	if p.queued {
		return
	}
	p.queued = true
	q := &rq.queues[p.priority]
	*q = append(*q, p)
}

// Dequeue removes the head of the highest non-empty priority queue.
//
// Low-priority processes are passed over once before each dispatch, giving
// RunDelayed; the caller retries immediately.
func (rq *RunQueues) Dequeue() Run {
	for prio := numPriorities - 1; prio >= 0; prio-- {
		q := &rq.queues[prio]
		if len(*q) == 0 {
			continue
		}
		p := (*q)[0]
		(*q)[0] = nil
		*q = (*q)[1:]
		if Priority(prio) == PriorityLow && !p.skipped {
			p.skipped = true
			*q = append(*q, p)
			return Run{Kind: RunDelayed}
		}
		p.skipped = false
		p.queued = false
		return Run{Kind: RunNow, Process: p}
	}
	return Run{Kind: RunNone}
}

// Requeue files a process that was just swapped out. Runnable processes go to
// the back of their queue, Waiting ones into the waiting set. An exiting
// process is handed back to the caller for exit handling and never queued
// again.
func (rq *RunQueues) Requeue(p *Process) *Process {
	switch p.Status() {
	case StatusRunnable:
		rq.Enqueue(p)
	case StatusWaiting:
		p.waiting = true
		rq.waiting[p] = struct{}{}
	case StatusExiting:
		rq.remove(p)
		return p
	default:
		invariant(false, "requeue of %s in state %s", p.pid, p.Status())
	}
	return nil
}

// StopWaiting makes a Waiting process Runnable again. A process that is still
// on the CPU is only marked Runnable; its swap-out requeues it. It reports
// whether the process changed state.
func (rq *RunQueues) StopWaiting(p *Process) bool {
	if !p.swapStatus(StatusWaiting, StatusRunnable) {
		if !p.IsExiting() || !p.waiting {
			return false
		}
		// exited by a signal while parked: queue it so it gets drained
	}
	p.waiting = false
	delete(rq.waiting, p)
	if !p.onCPU {
		rq.Enqueue(p)
	}
	return true
}

// remove takes p out of every queue and the waiting set.
func (rq *RunQueues) remove(p *Process) {
	p.waiting = false
	delete(rq.waiting, p)
	if !p.queued {
		return
	}
	q := &rq.queues[p.priority]
	for i, e := range *q {
		if e == p {
			*q = append((*q)[:i], (*q)[i+1:]...)
			break
		}
	}
	p.queued = false
}

// Contains reports whether p is queued or waiting here.
func (rq *RunQueues) Contains(p *Process) bool {
	if _, ok := rq.waiting[p]; ok {
		return true
	}
	for _, e := range rq.queues[p.priority] {
		if e == p {
			return true
		}
	}
	return false
}

// RunQueueLen is the number of runnable processes at priority.
func (rq *RunQueues) RunQueueLen(priority Priority) int {
	return len(rq.queues[priority])
}

// Len is the number of runnable processes across all priorities.
func (rq *RunQueues) Len() int {
	n := 0
	for i := range rq.queues {
		n += len(rq.queues[i])
	}
	return n
}

// WaitingLen is the number of processes parked in Waiting.
func (rq *RunQueues) WaitingLen() int { return len(rq.waiting) }

// drainAll empties every queue and the waiting set, returning what was there.
func (rq *RunQueues) drainAll() []*Process {
	var out []*Process
	for i := range rq.queues {
		for _, p := range rq.queues[i] {
			p.queued = false
			out = append(out, p)
		}
		rq.queues[i] = nil
	}
	for p := range rq.waiting {
		p.waiting = false
		out = append(out, p)
	}
	rq.waiting = make(map[*Process]struct{})
	return out
}
