// Package graph contains the task graph: it stores declared tasks, rejects
// duplicate ids, overlapping parallel outputs and dependency cycles, and
// resolves requests into topologically ordered plans.
package graph
