package scheduler

import (
	"fmt"
	"strings"

	"github.com/kingrea/assetflow/internal/graph"
	"github.com/kingrea/assetflow/internal/task"
)

// Selector exposes the minimal contract the orchestrator needs to request
// runnable task batches.
type Selector interface {
	Runnable(RunnableRequest) (RunnableBatch, error)
}

// Scheduler implements Selector on top of a resolved plan. It examines the
// plan in order, filters tasks that are truly runnable, and enforces the
// concurrency classes.
type Scheduler struct {
	plan graph.Plan
}

// New wires a Scheduler to a plan.
func New(plan graph.Plan) *Scheduler {
	return &Scheduler{plan: plan}
}

// RunnableRequest captures the current run state plus scheduling constraints.
type RunnableRequest struct {
	// Finished maps task ids that already ended to their outcome.
	Finished map[string]task.Outcome
	// Running lists task ids currently executing so they are not dispatched
	// twice.
	Running []string
	// MaxParallel caps how many tasks may be active at once, including the
	// running ones. Values <= 0 disable the limit.
	MaxParallel int
}

// RunnableBatch describes the scheduler's decision.
type RunnableBatch struct {
	Tasks []task.Task
	// Blocked lists tasks that can never run in this plan because a
	// predecessor failed or was skipped. Callers mark them skipped.
	Blocked map[string]string
	Skipped map[string]SkipReason
}

// SkipReason explains why a task was excluded from the runnable set.
type SkipReason struct {
	Reason SkipReasonCode
	Detail string
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonNotReady    SkipReasonCode = "not-ready"
	SkipReasonActive      SkipReasonCode = "already-running"
	SkipReasonExclusive   SkipReasonCode = "exclusive"
	SkipReasonGroup       SkipReasonCode = "other-group"
	SkipReasonConcurrency SkipReasonCode = "concurrency"
)

// Runnable returns the next batch of tasks that may start now.
func (s *Scheduler) Runnable(req RunnableRequest) (RunnableBatch, error) {
	running := req.runningSet()
	result := RunnableBatch{}
	state := slotState{limit: req.MaxParallel, active: len(running)}
	for id := range running {
		t, ok := s.plan.Task(id)
		if !ok {
			return RunnableBatch{}, fmt.Errorf("scheduler: running task %s is not part of the plan", id)
		}
		state.occupy(t)
	}
	for _, t := range s.plan.Tasks() {
		if _, done := req.Finished[t.ID]; done {
			continue
		}
		if _, active := running[t.ID]; active {
			result.addSkip(t.ID, SkipReason{Reason: SkipReasonActive, Detail: "task already running"})
			continue
		}
		if blocker := s.failedDependency(t.ID, req.Finished); blocker != "" {
			result.addBlocked(t.ID, blocker)
			continue
		}
		if waiting := s.pendingDependencies(t.ID, req.Finished); len(waiting) > 0 {
			result.addSkip(t.ID, SkipReason{Reason: SkipReasonNotReady, Detail: "waiting for " + strings.Join(waiting, ", ")})
			continue
		}
		if reason, ok := state.admit(t); !ok {
			result.addSkip(t.ID, reason)
			continue
		}
		result.Tasks = append(result.Tasks, t)
	}
	return result, nil
}

func (s *Scheduler) failedDependency(id string, finished map[string]task.Outcome) string {
	for _, dep := range s.plan.Dependencies(id) {
		if outcome, ok := finished[dep]; ok && outcome != task.OutcomeSuccess {
			return dep
		}
	}
	return ""
}

func (s *Scheduler) pendingDependencies(id string, finished map[string]task.Outcome) []string {
	var waiting []string
	for _, dep := range s.plan.Dependencies(id) {
		if _, ok := finished[dep]; !ok {
			waiting = append(waiting, dep)
		}
	}
	return waiting
}

// slotState tracks what is occupying the orchestrator while a batch is
// assembled.
type slotState struct {
	limit     int
	active    int
	exclusive string
	group     string
}

func (s *slotState) occupy(t task.Task) {
	if t.Concurrency == task.Exclusive {
		s.exclusive = t.ID
		return
	}
	s.group = t.Group
}

func (s *slotState) admit(t task.Task) (SkipReason, bool) {
	if s.exclusive != "" {
		return SkipReason{Reason: SkipReasonExclusive, Detail: fmt.Sprintf("exclusive task %s in flight", s.exclusive)}, false
	}
	if t.Concurrency == task.Exclusive {
		if s.active > 0 {
			return SkipReason{Reason: SkipReasonExclusive, Detail: "waiting for running tasks to drain"}, false
		}
		s.active++
		s.occupy(t)
		return SkipReason{}, true
	}
	if s.group != "" && s.group != t.Group {
		return SkipReason{Reason: SkipReasonGroup, Detail: fmt.Sprintf("group %s in flight", s.group)}, false
	}
	if s.limit > 0 && s.active >= s.limit {
		return SkipReason{Reason: SkipReasonConcurrency, Detail: fmt.Sprintf("max parallel %d reached", s.limit)}, false
	}
	s.active++
	s.occupy(t)
	return SkipReason{}, true
}

func (req RunnableRequest) runningSet() map[string]struct{} {
	if len(req.Running) == 0 {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(req.Running))
	for _, id := range req.Running {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func (b *RunnableBatch) addSkip(id string, reason SkipReason) {
	if id == "" {
		return
	}
	if b.Skipped == nil {
		b.Skipped = make(map[string]SkipReason)
	}
	b.Skipped[id] = reason
}

func (b *RunnableBatch) addBlocked(id, blocker string) {
	if b.Blocked == nil {
		b.Blocked = make(map[string]string)
	}
	b.Blocked[id] = blocker
}

// IDs returns the ids of the runnable tasks in plan order.
func (b RunnableBatch) IDs() []string {
	if len(b.Tasks) == 0 {
		return nil
	}
	ids := make([]string, len(b.Tasks))
	for i, t := range b.Tasks {
		ids[i] = t.ID
	}
	return ids
}
