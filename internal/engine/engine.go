package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/chatsync/internal/ir"
	"github.com/roach88/chatsync/internal/notify"
	"github.com/roach88/chatsync/internal/transport"
	"github.com/roach88/chatsync/internal/trigger"
)

// Store is the durable queue the engine reads and writes.
// Implemented by store.Store, store.Memory and pebblestore.Store.
type Store interface {
	Append(ctx context.Context, op ir.PendingOperation) (int64, error)
	ListAll(ctx context.Context) ([]ir.PendingOperation, error)
	Remove(ctx context.Context, id int64) error
	PutResolution(ctx context.Context, placeholderID, conversationID string, at time.Time) error
	Resolutions(ctx context.Context) (map[string]string, error)
	PruneResolutions(ctx context.Context, before time.Time) (int, error)
}

// Poster performs the outbound replay call. Implemented by transport.Client.
type Poster interface {
	Post(ctx context.Context, target string, headers map[string]string, body []byte) (*transport.Response, error)
}

// Armer requests a deferred replay. Arm returning trigger.ErrUnsupported
// makes Enqueue fall back to an inline pass.
type Armer interface {
	Arm(ctx context.Context) error
}

// DefaultResolutionTTL is how long persisted placeholder resolutions are
// kept after they were recorded.
const DefaultResolutionTTL = 7 * 24 * time.Hour

// Engine owns the queue and replay state machine for one store.
//
// Thread-safety model:
//   - Enqueue, Pending: safe from any goroutine, never wait for a pass
//   - Flush, Discard: serialized by the pass guard
type Engine struct {
	store         Store
	poster        Poster
	notifier      notify.Notifier
	armer         Armer
	clock         Clock
	observer      Observer
	guard         *passGuard
	resolutionTTL time.Duration
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the timestamp source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithArmer sets the deferred replay trigger. Without one, every Enqueue
// runs an inline pass.
func WithArmer(a Armer) EngineOption {
	return func(e *Engine) {
		e.armer = a
	}
}

// WithObserver receives engine activity, typically for metrics.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithResolutionTTL sets how long placeholder resolutions are kept.
// Zero or negative disables pruning.
func WithResolutionTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.resolutionTTL = ttl
	}
}

// New creates an Engine. A nil notifier discards events.
func New(s Store, p Poster, n notify.Notifier, opts ...EngineOption) *Engine {
	if n == nil {
		n = notify.Discard
	}
	e := &Engine{
		store:         s,
		poster:        p,
		notifier:      n,
		clock:         SystemClock{},
		observer:      nopObserver{},
		guard:         newPassGuard(),
		resolutionTTL: DefaultResolutionTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Enqueue persists req and arranges for it to be replayed.
//
// Errors are returned only when the operation was not queued: an invalid
// request or a storage failure. Arm failures and inline replay failures are
// reported through notifications; the operation stays queued. Every queued
// operation except one whose trigger failed to arm ends with a queued-status
// notification.
func (e *Engine) Enqueue(ctx context.Context, req ir.Request) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, newInvalidRequest(err)
	}
	op, err := req.Operation(e.clock.Now())
	if err != nil {
		return 0, newInvalidRequest(err)
	}

	id, err := e.store.Append(ctx, op)
	if err != nil {
		return 0, newStorageError("append operation", 0, err)
	}
	e.observer.OperationQueued(op.Kind)

	slog.Debug("operation queued",
		"op_id", id,
		"kind", op.Kind,
		"placeholder", op.PlaceholderID,
	)

	if e.armer != nil {
		err := e.armer.Arm(ctx)
		switch {
		case err == nil:
			e.notify(ctx, notify.Event{Type: notify.TypeQueuedStatus, Message: notify.MsgQueued})
			return id, nil
		case !errors.Is(err, trigger.ErrUnsupported):
			slog.Warn("replay trigger not armed", "op_id", id, "error", newArmError(err))
			e.notify(ctx, notify.Event{Type: notify.TypeQueueError, Message: notify.MsgArmFailed})
			return id, nil
		}
	}

	// No deferred trigger available: replay now. The operation was queued
	// either way, so queued-status follows the pass events.
	if _, err := e.Flush(ctx); err != nil && !IsTransportError(err) {
		slog.Error("inline replay failed", "op_id", id, "error", err)
	}
	e.notify(ctx, notify.Event{Type: notify.TypeQueuedStatus, Message: notify.MsgQueued})
	return id, nil
}

// Pending returns a snapshot of queued operations in replay order.
func (e *Engine) Pending(ctx context.Context) ([]ir.PendingOperation, error) {
	ops, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, newStorageError("list operations", 0, err)
	}
	return ops, nil
}

// Discard removes one operation without replaying it. It waits for any
// running pass so it never races a delivery of the same operation.
func (e *Engine) Discard(ctx context.Context, id int64) error {
	if err := e.guard.acquire(ctx); err != nil {
		return err
	}
	defer e.guard.release()

	if err := e.store.Remove(ctx, id); err != nil {
		return newStorageError("discard operation", id, err)
	}
	slog.Info("operation discarded", "op_id", id)
	return nil
}

func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	ev.At = e.clock.Now()
	e.notifier.Notify(ctx, ev)
}
