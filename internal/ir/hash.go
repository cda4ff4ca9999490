package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainOperation prefixes operation fingerprints. The version suffix
// allows the fingerprint layout to change without colliding with old keys.
const DomainOperation = "chatsync/operation/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content-addressed identity of an operation.
//
// The store-assigned ID is excluded so the key is known before the
// operation is appended. CreatedAt and nonce keep two identical messages
// distinct, even when they are stamped with the same clock value. The
// result is persisted and sent as the Idempotency-Key header on every
// replay attempt of that operation.
func Fingerprint(op PendingOperation, nonce string) (string, error) {
	var payload any
	if raw := op.Body(); len(raw) > 0 {
		canon, err := CanonicalizeJSON(raw)
		if err != nil {
			return "", fmt.Errorf("fingerprint: payload: %w", err)
		}
		payload = string(canon)
	}

	obj := map[string]any{
		"kind":              string(op.Kind),
		"endpoint_base":     op.EndpointBase,
		"payload":           payload,
		"placeholder_id":    op.PlaceholderID,
		"conversation_id":   op.ConversationID,
		"client_message_id": op.ClientMessageID,
		"created_at":        op.CreatedAt.UnixNano(),
		"nonce":             nonce,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}
