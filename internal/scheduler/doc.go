// Package scheduler turns a resolved plan plus the current run state into
// runnable batches that respect dependency order, the exclusive and
// parallel-safe concurrency classes, parallel groups and the optional
// concurrency cap. It is a thin layer the orchestrator calls to decide which
// tasks start next without re-implementing filtering logic.
package scheduler
