package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/chatsync/internal/ir"
)

// Append inserts a pending operation and returns its assigned id.
//
// Uses ON CONFLICT(namespace, idempotency_key) DO NOTHING so appending the
// same fingerprinted operation twice returns the existing id instead of
// queueing a duplicate.
func (s *Store) Append(ctx context.Context, op ir.PendingOperation) (int64, error) {
	headersJSON, err := marshalHeaders(op.Headers)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO pending_operations
		(namespace, kind, endpoint_base, headers, payload, placeholder_id,
		 conversation_id, client_message_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, idempotency_key) DO NOTHING
	`,
		s.namespace,
		string(op.Kind),
		op.EndpointBase,
		headersJSON,
		marshalPayload(op.Payload),
		op.PlaceholderID,
		op.ConversationID,
		op.ClientMessageID,
		op.IdempotencyKey,
		op.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("append: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("append: rows affected: %w", err)
	}

	var id int64
	if rowsAffected > 0 {
		id, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("append: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM pending_operations
			WHERE namespace = ? AND idempotency_key = ?
		`, s.namespace, op.IdempotencyKey).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("append: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append: commit: %w", err)
	}

	return id, nil
}

// Remove deletes the operation with the given id.
// Removing an id that is not present is not an error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_operations
		WHERE namespace = ? AND id = ?
	`, s.namespace, id)
	if err != nil {
		return fmt.Errorf("remove %d: %w", id, err)
	}
	return nil
}

// PutResolution records that placeholderID resolved to conversationID.
// A later resolution for the same placeholder replaces the earlier one.
func (s *Store) PutResolution(ctx context.Context, placeholderID, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO placeholder_resolutions
		(namespace, placeholder_id, conversation_id, resolved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, placeholder_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			resolved_at = excluded.resolved_at
	`, s.namespace, placeholderID, conversationID, at.UnixNano())
	if err != nil {
		return fmt.Errorf("put resolution %q: %w", placeholderID, err)
	}
	return nil
}

// PruneResolutions deletes resolutions recorded before the cutoff and
// returns how many were removed.
func (s *Store) PruneResolutions(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM placeholder_resolutions
		WHERE namespace = ? AND resolved_at < ?
	`, s.namespace, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune resolutions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune resolutions: rows affected: %w", err)
	}
	return int(n), nil
}
