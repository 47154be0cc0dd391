package lumen

import "sync"

// LinkTable is an ExitPropagator for bidirectional process links. When a
// process exits abnormally every process linked to it receives an exit signal
// with the same reason. Links are dropped when either side exits.
type LinkTable struct {
	mu    sync.Mutex
	links map[*Process]map[*Process]struct{}
}

// NewLinkTable returns an empty table.
func NewLinkTable() *LinkTable {
	return &LinkTable{links: make(map[*Process]map[*Process]struct{})}
}

// Link connects a and b. Linking a process to itself or to nil is a no-op.
func (t *LinkTable) Link(a, b *Process) {
	if a == nil || b == nil || a == b {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(a, b)
	t.add(b, a)
}

// Unlink removes the link between a and b.
func (t *LinkTable) Unlink(a, b *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.links[a], b)
	delete(t.links[b], a)
}

// Linked returns the processes linked to p.
func (t *LinkTable) Linked(p *Process) []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Process, 0, len(t.links[p]))
	for q := range t.links[p] {
		out = append(out, q)
	}
	return out
}

// Propagate implements ExitPropagator.
func (t *LinkTable) Propagate(p *Process, exc *Exception) {
	t.mu.Lock()
	peers := t.links[p]
	delete(t.links, p)
	for q := range peers {
		delete(t.links[q], p)
	}
	t.mu.Unlock()

	if exc.IsNormal() {
		return
	}
	for q := range peers {
		q.Signal(&Exception{Class: ClassExit, Reason: exc.Reason, Source: exc})
	}
}

func (t *LinkTable) add(a, b *Process) {
	set, ok := t.links[a]
	if !ok {
		set = make(map[*Process]struct{})
		t.links[a] = set
	}
	set[b] = struct{}{}
}
