package lumen

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// ID identifies a scheduler. Zero means "not scheduled".
type ID uint64

func (id ID) String() string { return "scheduler#" + strconv.FormatUint(uint64(id), 10) }

var (
	lastID     atomic.Uint64
	schedulers sync.Map // ID -> *Scheduler
)

func nextID() ID { return ID(lastID.Add(1)) }

func register(s *Scheduler) { schedulers.Store(s.id, s) }

func unregister(id ID) { schedulers.Delete(id) }

// FromID returns the live scheduler with the given id.
func FromID(id ID) (*Scheduler, bool) {
	v, ok := schedulers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Scheduler), true
}

// StopWaiting wakes p on whichever scheduler owns it. It is the wake callback
// handed to collaborators that run on other threads.
func StopWaiting(p *Process) {
	if s, ok := FromID(p.SchedulerID()); ok {
		s.StopWaiting(p)
	}
}
