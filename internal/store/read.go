package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/chatsync/internal/ir"
)

// ListAll returns every pending operation in insertion order.
// Returns an empty slice (not nil) when the queue is empty.
func (s *Store) ListAll(ctx context.Context) ([]ir.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, endpoint_base, headers, payload, placeholder_id,
		       conversation_id, client_message_id, idempotency_key, created_at
		FROM pending_operations
		WHERE namespace = ?
		ORDER BY id ASC
	`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	ops := []ir.PendingOperation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}

	return ops, nil
}

// Resolutions returns every persisted placeholder → conversation mapping.
func (s *Store) Resolutions(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT placeholder_id, conversation_id
		FROM placeholder_resolutions
		WHERE namespace = ?
	`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var placeholder, conversation string
		if err := rows.Scan(&placeholder, &conversation); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		out[placeholder] = conversation
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}

	return out, nil
}

func scanOperation(rows *sql.Rows) (ir.PendingOperation, error) {
	var (
		op          ir.PendingOperation
		kind        string
		headersJSON string
		payload     sql.NullString
		createdAt   int64
	)

	err := rows.Scan(
		&op.ID,
		&kind,
		&op.EndpointBase,
		&headersJSON,
		&payload,
		&op.PlaceholderID,
		&op.ConversationID,
		&op.ClientMessageID,
		&op.IdempotencyKey,
		&createdAt,
	)
	if err != nil {
		return ir.PendingOperation{}, fmt.Errorf("scan operation: %w", err)
	}

	op.Kind = ir.Kind(kind)
	op.CreatedAt = time.Unix(0, createdAt).UTC()
	op.Payload = unmarshalPayload(payload)

	op.Headers, err = unmarshalHeaders(headersJSON)
	if err != nil {
		return ir.PendingOperation{}, fmt.Errorf("operation %d: %w", op.ID, err)
	}

	return op, nil
}
