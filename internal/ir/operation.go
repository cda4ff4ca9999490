package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PendingOperation is one queued outbound chat request.
//
// Operations are immutable once appended: the store assigns ID and the
// replay engine only ever reads or deletes them.
type PendingOperation struct {
	ID              int64             `json:"id"`
	Kind            Kind              `json:"kind"`
	EndpointBase    string            `json:"endpointBase"`
	Headers         map[string]string `json:"headers,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	PlaceholderID   string            `json:"placeholderId,omitempty"`
	ConversationID  string            `json:"conversationId,omitempty"`
	ClientMessageID string            `json:"clientMessageId,omitempty"`
	IdempotencyKey  string            `json:"idempotencyKey"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// Body returns the JSON request body. An absent payload is sent as {}.
func (op PendingOperation) Body() []byte {
	if len(bytes.TrimSpace(op.Payload)) == 0 {
		return []byte("{}")
	}
	return op.Payload
}

// Request is the client-side description of an operation to enqueue.
type Request struct {
	Kind            Kind              `json:"kind"`
	EndpointBase    string            `json:"endpointBase"`
	Headers         map[string]string `json:"headers,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	PlaceholderID   string            `json:"placeholderId,omitempty"`
	ConversationID  string            `json:"conversationId,omitempty"`
	ClientMessageID string            `json:"clientMessageId,omitempty"`
}

// ErrEmptyEndpoint is returned when a request has no endpoint base.
var ErrEmptyEndpoint = errors.New("endpoint base is required")

// Validate checks the request can be persisted and replayed.
// The kind is deliberately not checked here; see Kind.Known.
func (r Request) Validate() error {
	if strings.TrimSpace(r.EndpointBase) == "" {
		return ErrEmptyEndpoint
	}
	if len(bytes.TrimSpace(r.Payload)) > 0 && !json.Valid(r.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}

// Operation builds the PendingOperation for r stamped with createdAt.
// The ID is left zero for the store to assign; the idempotency key is the
// operation's content fingerprint salted with a fresh nonce, so every call
// yields a distinct operation.
func (r Request) Operation(createdAt time.Time) (PendingOperation, error) {
	op := PendingOperation{
		Kind:            r.Kind,
		EndpointBase:    r.EndpointBase,
		Headers:         copyHeaders(r.Headers),
		Payload:         compactPayload(r.Payload),
		PlaceholderID:   r.PlaceholderID,
		ConversationID:  r.ConversationID,
		ClientMessageID: r.ClientMessageID,
		CreatedAt:       createdAt.UTC(),
	}

	key, err := Fingerprint(op, uuid.NewString())
	if err != nil {
		return PendingOperation{}, fmt.Errorf("build operation: %w", err)
	}
	op.IdempotencyKey = key
	return op, nil
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func compactPayload(p json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(p)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, p); err != nil {
		return append(json.RawMessage(nil), p...)
	}
	return buf.Bytes()
}
