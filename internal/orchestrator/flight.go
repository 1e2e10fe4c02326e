package orchestrator

import "github.com/kingrea/assetflow/internal/task"

// slot tracks the in-flight execution of one task across concurrent runs.
type slot struct {
	running bool
	next    *rerun
}

// rerun is the single follow-up execution shared by every request that
// arrived while the task was already running.
type rerun struct {
	start   chan struct{}
	done    chan struct{}
	waiters int
	result  task.Result
}

// claim registers interest in running id. It returns nil when the caller may
// run the task right away. Otherwise it returns the shared re-run and
// whether the caller leads it.
func (o *Orchestrator) claim(id string) (*rerun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.slots[id]
	if !ok {
		s = &slot{}
		o.slots[id] = s
	}
	if !s.running {
		s.running = true
		return nil, false
	}
	leader := false
	if s.next == nil {
		s.next = &rerun{start: make(chan struct{}), done: make(chan struct{})}
		leader = true
	}
	s.next.waiters++
	return s.next, leader
}

// release ends the current execution of id and hands the slot to a queued
// re-run if there is one.
func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.slots[id]
	if s == nil {
		return
	}
	if s.next != nil {
		next := s.next
		s.next = nil
		close(next.start)
		return
	}
	s.running = false
}

func (o *Orchestrator) queuedWaiters(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s := o.slots[id]; s != nil && s.next != nil {
		return s.next.waiters
	}
	return 0
}
