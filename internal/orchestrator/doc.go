// Package orchestrator executes build requests against the task graph. A
// single coordinating loop per run asks the scheduler for runnable batches,
// starts each task on its own goroutine and collects completions from a
// channel. Failures stay contained to the failed task and its dependents.
package orchestrator
