// Package task holds the data model shared by the graph, scheduler and
// orchestrator: task declarations, execution requests, run results and the
// error kinds they raise.
package task
