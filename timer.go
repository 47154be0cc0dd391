package lumen

import (
	"container/heap"
	"sync"
	"time"
)

// TimerRef identifies a started timer.
type TimerRef uint64

type timer struct {
	ref      TimerRef
	deadline time.Time
	process  *Process
	index    int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].ref < h[j].ref
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	t.index = -1
	return t
}

// Hierarchy is the default TimerService: deadlines ordered in a min-heap.
// Timeout fires every due timer by calling wake with its process.
type Hierarchy struct {
	mu     sync.Mutex
	timers timerHeap
	byRef  map[TimerRef]*timer
	last   TimerRef
	wake   func(*Process)
	now    func() time.Time
}

// NewHierarchy returns an empty hierarchy that calls wake for fired timers.
func NewHierarchy(wake func(*Process)) *Hierarchy {
	return &Hierarchy{
		byRef: make(map[TimerRef]*timer),
		wake:  wake,
		now:   time.Now,
	}
}

// Start arms a timer that wakes p after d.
func (h *Hierarchy) Start(d time.Duration, p *Process) TimerRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last++
	t := &timer{ref: h.last, deadline: h.now().Add(d), process: p}
	heap.Push(&h.timers, t)
	h.byRef[t.ref] = t
	return t.ref
}

// Cancel disarms a timer. It reports false if the timer already fired or was
// cancelled.
func (h *Hierarchy) Cancel(ref TimerRef) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.byRef[ref]
	if !ok {
		return false
	}
	delete(h.byRef, ref)
	heap.Remove(&h.timers, t.index)
	return true
}

// Timeout fires every timer whose deadline has passed.
func (h *Hierarchy) Timeout() {
	now := h.now()
	var due []*Process
	h.mu.Lock()
	for len(h.timers) > 0 && !h.timers[0].deadline.After(now) {
		t := heap.Pop(&h.timers).(*timer)
		delete(h.byRef, t.ref)
		due = append(due, t.process)
	}
	h.mu.Unlock()
	for _, p := range due {
		h.wake(p)
	}
}

// Next returns the earliest pending deadline.
func (h *Hierarchy) Next() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.timers) == 0 {
		return time.Time{}, false
	}
	return h.timers[0].deadline, true
}

// Len is the number of armed timers.
func (h *Hierarchy) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timers)
}
