package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/watcher"
)

// DefaultFeedBuffer is how many events may queue before producers block.
const DefaultFeedBuffer = 256

type runEventMsg struct {
	event orchestrator.Event
}

type routerStateMsg struct {
	state watcher.State
}

type reloadMsg struct {
	reason string
}

type feedClosedMsg struct{}

// Feed carries orchestrator events and router state changes into the
// dashboard. It is an orchestrator.Observer and plugs into the router via
// watcher.WithStateHook(feed.SetState).
type Feed struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

// NewFeed creates a feed with the given buffer size.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed{
		ch:   make(chan tea.Msg, buffer),
		done: make(chan struct{}),
	}
}

// Observe forwards a run event.
func (f *Feed) Observe(ev orchestrator.Event) {
	f.send(runEventMsg{event: ev})
}

// SetState forwards a router state transition.
func (f *Feed) SetState(s watcher.State) {
	f.send(routerStateMsg{state: s})
}

// Notify records a browser reload so the dashboard can show it. Wrap the
// real notifier with Tee to keep reloading browsers.
func (f *Feed) Notify(reason string) {
	f.send(reloadMsg{reason: reason})
}

// Close stops delivery. Producers blocked on a full buffer return.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.ch <- msg:
	case <-f.done:
	}
}

// wait blocks for the next message. The dashboard re-arms it after every
// delivery.
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.ch:
			return msg
		case <-f.done:
			return feedClosedMsg{}
		}
	}
}

// Notifier is told to reload connected browsers.
type Notifier interface {
	Notify(reason string)
}

type teeNotifier []Notifier

func (t teeNotifier) Notify(reason string) {
	for _, n := range t {
		n.Notify(reason)
	}
}

// Tee fans a reload out to every non-nil notifier.
func Tee(notifiers ...Notifier) Notifier {
	var out teeNotifier
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}
