package orchestrator

import (
	"time"

	"github.com/kingrea/assetflow/internal/task"
)

// EventKind names the lifecycle points observers hear about.
type EventKind string

const (
	EventRunStarted   EventKind = "run-started"
	EventTaskStarted  EventKind = "task-started"
	EventTaskFinished EventKind = "task-finished"
	EventRunFinished  EventKind = "run-finished"
)

// Event is delivered to observers. Result is set for task-finished events and
// Report for run-finished events.
type Event struct {
	Kind    EventKind
	TaskID  string
	Trigger task.Trigger
	Tasks   []string
	Result  task.Result
	Report  task.Report
	At      time.Time
}

// Observer receives run events. Calls come from the coordinating goroutine
// of each run, one at a time per run.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Notifier is told to reload connected browsers.
type Notifier interface {
	Notify(reason string)
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(reason string)

// Notify calls f(reason).
func (f NotifierFunc) Notify(reason string) { f(reason) }

// Cleaner removes generated output directories.
type Cleaner interface {
	RemoveAll(path string) error
}

// Logger is the narrow logging contract used by the orchestrator.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
