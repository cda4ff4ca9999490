package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/chatsync/internal/ir"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store is closed")

type memResolution struct {
	conversationID string
	resolvedAt     time.Time
}

// Memory is a process-local store for tests and ephemeral runs.
// Ids are never reused for the lifetime of the value.
type Memory struct {
	mu          sync.Mutex
	closed      bool
	lastID      int64
	ops         []ir.PendingOperation
	byKey       map[string]int64
	resolutions map[string]memResolution
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byKey:       make(map[string]int64),
		resolutions: make(map[string]memResolution),
	}
}

// Append stores op under the next id. An op whose idempotency key is
// already queued returns the existing id.
func (m *Memory) Append(ctx context.Context, op ir.PendingOperation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	if op.IdempotencyKey != "" {
		if id, ok := m.byKey[op.IdempotencyKey]; ok {
			return id, nil
		}
	}

	m.lastID++
	stored := cloneOperation(op)
	stored.ID = m.lastID
	if stored.Headers == nil {
		stored.Headers = map[string]string{}
	}
	m.ops = append(m.ops, stored)
	if op.IdempotencyKey != "" {
		m.byKey[op.IdempotencyKey] = stored.ID
	}
	return stored.ID, nil
}

// ListAll returns copies of the queued operations in id order.
func (m *Memory) ListAll(ctx context.Context) ([]ir.PendingOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]ir.PendingOperation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, cloneOperation(op))
	}
	return out, nil
}

// Remove deletes the operation with id. A missing id is not an error.
func (m *Memory) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for i, op := range m.ops {
		if op.ID != id {
			continue
		}
		delete(m.byKey, op.IdempotencyKey)
		m.ops = append(m.ops[:i], m.ops[i+1:]...)
		return nil
	}
	return nil
}

// PutResolution records or overwrites the conversation a placeholder
// resolved to.
func (m *Memory) PutResolution(ctx context.Context, placeholderID, conversationID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.resolutions[placeholderID] = memResolution{conversationID: conversationID, resolvedAt: at}
	return nil
}

// Resolutions returns every recorded placeholder resolution.
func (m *Memory) Resolutions(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make(map[string]string, len(m.resolutions))
	for ph, r := range m.resolutions {
		out[ph] = r.conversationID
	}
	return out, nil
}

// PruneResolutions drops resolutions recorded before the cutoff and
// reports how many were removed.
func (m *Memory) PruneResolutions(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	n := 0
	for ph, r := range m.resolutions {
		if r.resolvedAt.Before(before) {
			delete(m.resolutions, ph)
			n++
		}
	}
	return n, nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
