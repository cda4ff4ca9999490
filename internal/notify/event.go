// Package notify delivers queue and replay events to attached client
// sessions.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type names the kind of event.
type Type string

const (
	TypeQueuedStatus Type = "queued-status"
	TypeQueueError   Type = "queue-error"
	TypeChatResponse Type = "chat-response"
	TypeQueueCleared Type = "queue-cleared"
)

// User-visible messages.
const (
	MsgQueued         = "Queued message for background sync."
	MsgArmFailed      = "Sync registration failed."
	MsgReplayFailed   = "Background sync failed; will retry when connection is back."
	MsgStorageFailure = "Background sync could not read the queue."
)

// Event is one notification. Fields other than Type and Message are only
// set on chat-response events.
type Event struct {
	Type            Type      `json:"type"`
	Message         string    `json:"message"`
	ConversationID  string    `json:"conversationId,omitempty"`
	ReplyText       string    `json:"replyText,omitempty"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	At              time.Time `json:"at"`
}

// Notifier receives events. Implementations must not block for long; the
// replay engine calls Notify inline.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Discard drops every event.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

// Recorder keeps every event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Log writes every event to the default slog logger.
var Log Notifier = logNotifier{}

type logNotifier struct{}

func (logNotifier) Notify(ctx context.Context, ev Event) {
	level := slog.LevelInfo
	if ev.Type == TypeQueueError {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "notification", "type", ev.Type, "message", ev.Message, "conversation", ev.ConversationID)
}
