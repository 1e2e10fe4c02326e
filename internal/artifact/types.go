// Package artifact owns the generated files on disk. Writes go through a temp
// file plus rename so readers never observe half-written output, and every
// committed file is recorded in a manifest so later checks can tell missing or
// hand-edited outputs apart from fresh ones.

package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// State captures what Check found on disk for a tracked output.
type State string

const (
	// StateMissing means the output does not exist.
	StateMissing State = "missing"
	// StateReady means the output matches the manifest checksum.
	StateReady State = "ready"
	// StateModified means the output exists but its checksum differs.
	StateModified State = "modified"
	// StateUntracked means the output exists but was never committed.
	StateUntracked State = "untracked"
	// StateError means the output could not be inspected.
	StateError State = "error"
)

// File is one staged output waiting to be committed.
type File struct {
	// Path is relative to the store root (or absolute).
	Path string
	Data []byte
}

// Entry records a committed output in the manifest.
type Entry struct {
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// TaskEntry groups the outputs last committed by one task.
type TaskEntry struct {
	Files     map[string]Entry `json:"files"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Manifest is the persisted record of committed outputs.
type Manifest struct {
	Version int                  `json:"version"`
	Tasks   map[string]TaskEntry `json:"tasks"`
}

// CheckResult is the outcome of inspecting one output.
type CheckResult struct {
	TaskID   string
	Path     string
	State    State
	Expected string
	Actual   string
	Err      error
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newManifest() Manifest {
	return Manifest{Version: 1, Tasks: map[string]TaskEntry{}}
}
