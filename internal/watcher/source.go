// Package watcher turns raw file system notifications into build requests.
// A Source delivers events, the Router matches them against watch rules,
// debounces bursts and hands the resulting task set to the orchestrator.
package watcher

import (
	"errors"
	"time"
)

// ErrSourceClosed is returned by sources after Close.
var ErrSourceClosed = errors.New("watcher: source is closed")

// Op represents the type of file system operation.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event represents a file system change.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string
	Op   Op
	At   time.Time
}

// Source delivers raw change notifications.
type Source interface {
	// Watch subscribes to dir and every directory below it.
	Watch(dir string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}
