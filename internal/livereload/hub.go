package livereload

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Commands sent to connected browsers.
const (
	CommandHello  = "hello"
	CommandReload = "reload"
)

// Message is the JSON frame written to browser sessions.
type Message struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// Metrics receives hub activity. *metrics.Metrics satisfies it.
type Metrics interface {
	IncReload()
	SetSessions(n int)
}

// Logger is satisfied by log.Logger and the project logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type nopMetrics struct{}

func (nopMetrics) IncReload() {}

func (nopMetrics) SetSessions(int) {}

// HubOption customizes Hub construction.
type HubOption func(*Hub)

// WithHubLogger overrides the default no-op logger.
func WithHubLogger(l Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records reloads and session counts.
func WithMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithWriteWait bounds every websocket write.
func WithWriteWait(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeWait = d
		}
	}
}

// Hub tracks connected browser sessions and broadcasts reload commands.
type Hub struct {
	logger    Logger
	metrics   Metrics
	writeWait time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id   string
	conn *websocket.Conn
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:    nopLogger{},
		metrics:   nopMetrics{},
		writeWait: DefaultWriteWait,
		sessions:  map[string]*session{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Add registers conn and greets it. It returns the session id.
func (h *Hub) Add(conn *websocket.Conn) string {
	s := &session{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.mu.Unlock()
	h.metrics.SetSessions(count)
	if err := h.write(s, Message{Command: CommandHello}); err != nil {
		h.drop(s.id)
	}
	return s.id
}

// Remove closes and forgets a session. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.drop(id)
}

// Notify tells every connected browser to reload. Sessions whose write fails
// are closed and pruned; their errors are never returned.
func (h *Hub) Notify(reason string) {
	h.metrics.IncReload()
	targets := h.snapshot()
	msg := Message{Command: CommandReload, Reason: reason}
	var dead []string
	for _, s := range targets {
		if err := h.write(s, msg); err != nil {
			h.logger.Printf("livereload: session %s: %v", s.id, err)
			dead = append(dead, s.id)
		}
	}
	for _, id := range dead {
		h.drop(id)
	}
	h.logger.Printf("livereload: reload (%s) sent to %d session(s)", reason, len(targets)-len(dead))
}

// Sessions returns the number of connected browsers.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// IDs returns the connected session ids, sorted.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close disconnects every session.
func (h *Hub) Close() {
	for _, s := range h.snapshot() {
		h.drop(s.id)
	}
}

func (h *Hub) snapshot() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) write(s *session, msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	count := len(h.sessions)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = s.conn.Close()
	h.metrics.SetSessions(count)
}
