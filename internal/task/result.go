package task

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TriggerKind enumerates why a run was requested.
type TriggerKind string

const (
	TriggerManual       TriggerKind = "manual"
	TriggerFileChange   TriggerKind = "file-change"
	TriggerDependencyOf TriggerKind = "dependency-of"
)

// Trigger records the reason behind an execution request.
type Trigger struct {
	Kind TriggerKind
	// Paths lists the changed files for file-change triggers.
	Paths []string
	// TaskID names the dependent for dependency-of triggers.
	TaskID string
}

// Manual returns a manual trigger.
func Manual() Trigger { return Trigger{Kind: TriggerManual} }

// FileChange returns a trigger for the given changed paths.
func FileChange(paths ...string) Trigger {
	sorted := cloneStrings(paths)
	sort.Strings(sorted)
	return Trigger{Kind: TriggerFileChange, Paths: sorted}
}

// DependencyOf returns a trigger for a predecessor pulled in by taskID.
func DependencyOf(taskID string) Trigger {
	return Trigger{Kind: TriggerDependencyOf, TaskID: taskID}
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerFileChange:
		return fmt.Sprintf("file-change(%s)", strings.Join(t.Paths, ", "))
	case TriggerDependencyOf:
		return fmt.Sprintf("dependency-of(%s)", t.TaskID)
	case "":
		return string(TriggerManual)
	default:
		return string(t.Kind)
	}
}

// Expansion selects how the graph grows a request's targets into a plan.
type Expansion int

const (
	// ExpandPredecessors runs the targets plus everything they depend on.
	ExpandPredecessors Expansion = iota
	// ExpandDependents runs exactly the targets plus their dependents.
	ExpandDependents
)

// Request asks the orchestrator to run a set of tasks.
type Request struct {
	Targets []string
	Trigger Trigger
	Expand  Expansion
}

// Outcome is the final state of one task inside a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// FileStat records one written file.
type FileStat struct {
	Path  string
	Bytes int64
}

// Summary is the size/metric summary a task emits.
type Summary struct {
	Title string
	Files []FileStat
}

// TotalBytes sums the bytes of every written file.
func (s Summary) TotalBytes() int64 {
	var total int64
	for _, f := range s.Files {
		total += f.Bytes
	}
	return total
}

// FormatBytes renders n with binary units, e.g. "1.5 KiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Merge appends other's files and keeps the first non-empty title.
func (s Summary) Merge(other Summary) Summary {
	if s.Title == "" {
		s.Title = other.Title
	}
	s.Files = append(append([]FileStat{}, s.Files...), other.Files...)
	return s
}

// Result is what the orchestrator produced for one task.
type Result struct {
	TaskID    string
	Outcome   Outcome
	Err       error
	Trigger   Trigger
	StartedAt time.Time
	Duration  time.Duration
	Summary   Summary
}

// Succeeded reports whether the task completed.
func (r Result) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// Report aggregates a whole run in plan order.
type Report struct {
	Trigger   Trigger
	Results   []Result
	Reloaded  bool
	StartedAt time.Time
	Duration  time.Duration
}

// Result looks up the result for a task.
func (r Report) Result(id string) (Result, bool) {
	for _, res := range r.Results {
		if res.TaskID == id {
			return res, true
		}
	}
	return Result{}, false
}

// Failed returns the results that ended in failure.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailure {
			failed = append(failed, res)
		}
	}
	return failed
}

// Count returns how many results ended with the given outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// OK reports whether every task in the run succeeded.
func (r Report) OK() bool {
	return r.Count(OutcomeSuccess) == len(r.Results)
}
