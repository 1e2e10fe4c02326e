package task

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPluginFailed marks errors raised by a plugin during a task pipeline.
var ErrPluginFailed = errors.New("plugin failed")

// DuplicateTaskError is returned when a task id is declared twice.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s already declared", e.ID)
}

// UnknownTaskError is returned when a request or dependency names a task that
// was never declared.
type UnknownTaskError struct {
	ID string
	// ReferencedBy is set when the unknown id appears as a dependency.
	ReferencedBy string
}

func (e *UnknownTaskError) Error() string {
	if e.ReferencedBy != "" {
		return fmt.Sprintf("task %s depends on undeclared task %s", e.ReferencedBy, e.ID)
	}
	return fmt.Sprintf("unknown task %s", e.ID)
}

// CyclicDependencyError reports a dependency cycle. Cycle lists the ids in
// order and repeats the first id at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// OverlapError is returned when two parallel-safe tasks of the same group
// claim overlapping outputs.
type OverlapError struct {
	TaskID  string
	Other   string
	Group   string
	Path    string
	OtherAt string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("task %s output %s overlaps %s output %s in parallel group %s", e.TaskID, e.Path, e.Other, e.OtherAt, e.Group)
}

// PluginFailure wraps an error raised inside one task's pipeline. It is
// contained to that task.
type PluginFailure struct {
	TaskID string
	Stage  string
	Cause  error
}

func (e *PluginFailure) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("task %s failed at %s: %v", e.TaskID, e.Stage, e.Cause)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Cause)
}

func (e *PluginFailure) Unwrap() []error {
	return []error{ErrPluginFailed, e.Cause}
}

// FileSystemError reports a clean or write failure. It is fatal for the run
// that hit it.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

// PartialFailureError is returned by a run in which at least one task failed.
type PartialFailureError struct {
	Failed []Result
}

func (e *PartialFailureError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, res := range e.Failed {
		ids = append(ids, res.TaskID)
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(e.Failed), strings.Join(ids, ", "))
}

// Unwrap exposes the underlying task errors.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, res := range e.Failed {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}
