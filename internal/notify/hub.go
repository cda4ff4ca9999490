package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSessionBuffer is the number of undelivered events a session holds
// before new events are dropped for it.
const DefaultSessionBuffer = 64

// Session is one attached client. Events arrive on C until the session is
// detached, at which point C is closed.
type Session struct {
	ID string
	C  <-chan []byte

	send chan []byte
}

// Hub broadcasts events to every attached session. Notify never blocks:
// a session whose buffer is full misses the event.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	buffer   int
}

// NewHub returns a hub whose sessions buffer up to buffer events.
// A non-positive buffer selects DefaultSessionBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSessionBuffer
	}
	return &Hub{
		sessions: make(map[string]*Session),
		buffer:   buffer,
	}
}

// Attach registers a new session.
func (h *Hub) Attach() *Session {
	send := make(chan []byte, h.buffer)
	s := &Session{ID: uuid.NewString(), C: send, send: send}

	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	slog.Debug("session attached", "session", s.ID, "sessions", n)
	return s
}

// Detach unregisters a session and closes its channel. Detaching twice is
// a no-op.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	if ok {
		delete(h.sessions, s.ID)
		close(s.send)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	if ok {
		slog.Debug("session detached", "session", s.ID, "sessions", n)
	}
}

// Len returns the number of attached sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Notify encodes ev once and offers it to every session.
func (h *Hub) Notify(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encode event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.sessions {
		select {
		case s.send <- data:
		default:
			slog.Warn("session buffer full, dropping event", "session", id, "type", ev.Type)
		}
	}
}
