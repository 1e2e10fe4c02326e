package task

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Concurrency declares whether a task may share the orchestrator with other
// tasks.
type Concurrency string

const (
	// Exclusive tasks run with nothing else in flight.
	Exclusive Concurrency = "exclusive"
	// ParallelSafe tasks may overlap with other parallel-safe tasks of the
	// same group.
	ParallelSafe Concurrency = "parallel-safe"
)

// DefaultGroup is the parallel group of tasks that do not name one.
const DefaultGroup = "default"

// Action is the unit of work behind a task. Pipelines implement it.
type Action interface {
	Execute(ctx context.Context) (Summary, error)
}

// Describer is implemented by actions that can list their stages.
type Describer interface {
	Describe() []string
}

// ActionFunc adapts a function into an Action.
type ActionFunc func(ctx context.Context) (Summary, error)

// Execute calls f(ctx).
func (f ActionFunc) Execute(ctx context.Context) (Summary, error) {
	if f == nil {
		return Summary{}, nil
	}
	return f(ctx)
}

// Task is a named, declared unit of build work.
type Task struct {
	ID          string
	Description string
	DependsOn   []string
	Concurrency Concurrency
	// Group names the parallel group. Parallel-safe tasks only overlap with
	// running tasks of the same group.
	Group string
	// Outputs lists the destination paths (files or directories) the task
	// writes. Parallel-safe tasks of one group must not share any of them.
	Outputs []string
	// Notify requests a browser reload once the task succeeds.
	Notify bool
	Action Action
}

// Validate ensures the task declaration is usable.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task: id is required")
	}
	switch t.Concurrency {
	case Exclusive, ParallelSafe:
	default:
		return fmt.Errorf("task %s: unknown concurrency class %q", t.ID, t.Concurrency)
	}
	deps := append([]string{}, t.DependsOn...)
	sort.Strings(deps)
	for i := range deps {
		if strings.TrimSpace(deps[i]) == "" {
			return fmt.Errorf("task %s: empty dependency id", t.ID)
		}
		if i > 0 && deps[i] == deps[i-1] {
			return fmt.Errorf("task %s: duplicate dependency on %s", t.ID, deps[i])
		}
	}
	return nil
}

// Normalized returns a copy with defaults applied and paths cleaned.
func (t Task) Normalized() Task {
	clone := t.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	if clone.Concurrency == "" {
		clone.Concurrency = ParallelSafe
	}
	clone.Group = strings.TrimSpace(clone.Group)
	if clone.Group == "" {
		clone.Group = DefaultGroup
	}
	for i, out := range clone.Outputs {
		clone.Outputs[i] = filepath.Clean(out)
	}
	return clone
}

// Clone returns a deep copy of the declaration. The action is shared.
func (t Task) Clone() Task {
	clone := t
	clone.DependsOn = cloneStrings(t.DependsOn)
	clone.Outputs = cloneStrings(t.Outputs)
	return clone
}

// Stages lists the stage names of the task's action, if it exposes them.
func (t Task) Stages() []string {
	if d, ok := t.Action.(Describer); ok {
		return d.Describe()
	}
	return nil
}

// OverlapsWith returns the first pair of outputs shared between t and other.
// Two paths overlap when they are equal or one contains the other.
func (t Task) OverlapsWith(other Task) (string, string, bool) {
	for _, a := range t.Outputs {
		for _, b := range other.Outputs {
			if pathsOverlap(a, b) {
				return a, b, true
			}
		}
	}
	return "", "", false
}

func pathsOverlap(a, b string) bool {
	a = filepath.Clean(a)
	b = filepath.Clean(b)
	if a == b {
		return true
	}
	return within(a, b) || within(b, a)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
