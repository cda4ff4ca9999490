// Package pebblestore is a durable queue store backed by Pebble.
//
// Key layout, per namespace:
//
//	<ns>/seq            last assigned id (8 bytes, big-endian)
//	<ns>/op/<id>        JSON-encoded operation, id big-endian so keys sort FIFO
//	<ns>/key/<idemkey>  id of the operation holding that idempotency key
//	<ns>/res/<ph>       JSON-encoded placeholder resolution
//
// Every write is committed with pebble.Sync.
package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/chatsync/internal/ir"
	"github.com/roach88/chatsync/internal/store"
)

// Store is a Pebble-backed queue scoped to one namespace.
type Store struct {
	mu        sync.Mutex
	db        *pebble.DB
	namespace string
	closed    bool
}

type record struct {
	Kind            string            `json:"kind"`
	EndpointBase    string            `json:"endpoint_base"`
	Headers         map[string]string `json:"headers,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	PlaceholderID   string            `json:"placeholder_id,omitempty"`
	ConversationID  string            `json:"conversation_id,omitempty"`
	ClientMessageID string            `json:"client_message_id,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key"`
	CreatedAt       int64             `json:"created_at"`
}

type resolution struct {
	ConversationID string `json:"conversation_id"`
	ResolvedAt     int64  `json:"resolved_at"`
}

// Open opens (or creates) a Pebble database in dir.
func Open(dir, namespace string) (*Store, error) {
	if namespace == "" {
		namespace = store.DefaultNamespace
	}
	if strings.Contains(namespace, "/") {
		return nil, fmt.Errorf("namespace %q must not contain '/'", namespace)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &Store{db: db, namespace: namespace}, nil
}

// Namespace returns the namespace this store is scoped to.
func (s *Store) Namespace() string {
	return s.namespace
}

// Append writes op and its idempotency index in one batch. A live
// operation with the same key returns its id.
func (s *Store) Append(ctx context.Context, op ir.PendingOperation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}

	if op.IdempotencyKey != "" {
		id, found, err := s.readID(s.key("key/" + op.IdempotencyKey))
		if err != nil {
			return 0, fmt.Errorf("append: lookup idempotency key: %w", err)
		}
		if found {
			// The index entry may outlive its record when Remove could not
			// decode it; only a live record counts as a duplicate.
			live, err := s.has(s.opKey(id))
			if err != nil {
				return 0, fmt.Errorf("append: lookup operation %d: %w", id, err)
			}
			if live {
				return id, nil
			}
		}
	}

	last, _, err := s.readID(s.key("seq"))
	if err != nil {
		return 0, fmt.Errorf("append: read sequence: %w", err)
	}
	id := last + 1

	value, err := json.Marshal(record{
		Kind:            string(op.Kind),
		EndpointBase:    op.EndpointBase,
		Headers:         op.Headers,
		Payload:         op.Payload,
		PlaceholderID:   op.PlaceholderID,
		ConversationID:  op.ConversationID,
		ClientMessageID: op.ClientMessageID,
		IdempotencyKey:  op.IdempotencyKey,
		CreatedAt:       op.CreatedAt.UnixNano(),
	})
	if err != nil {
		return 0, fmt.Errorf("append: encode: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(s.key("seq"), encodeID(id), nil); err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	if err := b.Set(s.opKey(id), value, nil); err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	if op.IdempotencyKey != "" {
		if err := b.Set(s.key("key/"+op.IdempotencyKey), encodeID(id), nil); err != nil {
			return 0, fmt.Errorf("append: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("append: commit: %w", err)
	}
	return id, nil
}

// ListAll returns the namespace's operations in id order.
func (s *Store) ListAll(ctx context.Context) ([]ir.PendingOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	prefix := s.key("op/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list operations: create iterator: %w", err)
	}
	defer iter.Close()

	ops := []ir.PendingOperation{}
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+8 {
			continue
		}
		id := int64(binary.BigEndian.Uint64(key[len(prefix):]))

		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("list operations: decode %d: %w", id, err)
		}
		ops = append(ops, rec.operation(id))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

// Remove deletes the operation with id. A missing id is not an error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	value, closer, err := s.db.Get(s.opKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove %d: %w", id, err)
	}
	// A record that fails to decode is still removed so Discard can clear
	// it; its index entry is left stale and Append ignores it.
	var rec record
	decodeErr := json.Unmarshal(value, &rec)
	closer.Close()

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(s.opKey(id), nil); err != nil {
		return fmt.Errorf("remove %d: %w", id, err)
	}
	if decodeErr == nil && rec.IdempotencyKey != "" {
		if err := b.Delete(s.key("key/"+rec.IdempotencyKey), nil); err != nil {
			return fmt.Errorf("remove %d: %w", id, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("remove %d: commit: %w", id, err)
	}
	return nil
}

func (s *Store) PutResolution(ctx context.Context, placeholderID, conversationID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	value, err := json.Marshal(resolution{ConversationID: conversationID, ResolvedAt: at.UnixNano()})
	if err != nil {
		return fmt.Errorf("put resolution %q: %w", placeholderID, err)
	}
	if err := s.db.Set(s.key("res/"+placeholderID), value, pebble.Sync); err != nil {
		return fmt.Errorf("put resolution %q: %w", placeholderID, err)
	}
	return nil
}

func (s *Store) Resolutions(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.scanResolutions(ctx, func(ph string, r resolution) error {
		out[ph] = r.ConversationID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) PruneResolutions(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UnixNano()
	var expired []string
	err := s.scanResolutions(ctx, func(ph string, r resolution) error {
		if r.ResolvedAt < cutoff {
			expired = append(expired, ph)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, ph := range expired {
		if err := b.Delete(s.key("res/"+ph), nil); err != nil {
			return 0, fmt.Errorf("prune resolutions: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("prune resolutions: commit: %w", err)
	}
	return len(expired), nil
}

// Close closes the underlying database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) scanResolutions(ctx context.Context, fn func(string, resolution) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	prefix := s.key("res/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("scan resolutions: create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		ph := string(iter.Key()[len(prefix):])
		var r resolution
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return fmt.Errorf("scan resolutions: decode %q: %w", ph, err)
		}
		if err := fn(ph, r); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan resolutions: %w", err)
	}
	return nil
}

// readID reads a big-endian id stored at key. found is false when the key
// is absent.
func (s *Store) readID(key []byte) (id int64, found bool, err error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, false, fmt.Errorf("corrupt id at %q", key)
	}
	return int64(binary.BigEndian.Uint64(value)), true, nil
}

func (s *Store) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *Store) key(suffix string) []byte {
	return []byte(s.namespace + "/" + suffix)
}

func (s *Store) opKey(id int64) []byte {
	return append(s.key("op/"), encodeID(id)...)
}

func encodeID(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (r record) operation(id int64) ir.PendingOperation {
	headers := r.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return ir.PendingOperation{
		ID:              id,
		Kind:            ir.Kind(r.Kind),
		EndpointBase:    r.EndpointBase,
		Headers:         headers,
		Payload:         r.Payload,
		PlaceholderID:   r.PlaceholderID,
		ConversationID:  r.ConversationID,
		ClientMessageID: r.ClientMessageID,
		IdempotencyKey:  r.IdempotencyKey,
		CreatedAt:       time.Unix(0, r.CreatedAt).UTC(),
	}
}
