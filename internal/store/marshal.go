package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/chatsync/internal/ir"
)

// marshalHeaders converts headers to JSON TEXT for storage.
// Go's json.Marshal sorts map keys, so equal maps store identical text.
func marshalHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(data), nil
}

// unmarshalHeaders parses stored headers. Always returns a non-nil map.
func unmarshalHeaders(data string) (map[string]string, error) {
	h := map[string]string{}
	if data == "" || data == "{}" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return h, nil
}

// marshalPayload stores an absent payload as NULL.
func marshalPayload(p json.RawMessage) sql.NullString {
	if len(p) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}

func unmarshalPayload(p sql.NullString) json.RawMessage {
	if !p.Valid || p.String == "" {
		return nil
	}
	return json.RawMessage(p.String)
}

// cloneOperation deep-copies the mutable parts of an operation so callers
// cannot alias store-owned state.
func cloneOperation(op ir.PendingOperation) ir.PendingOperation {
	out := op
	if op.Headers != nil {
		out.Headers = make(map[string]string, len(op.Headers))
		for k, v := range op.Headers {
			out.Headers[k] = v
		}
	}
	if op.Payload != nil {
		out.Payload = append(json.RawMessage(nil), op.Payload...)
	}
	return out
}
