package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reply is the part of a chat endpoint response the replay engine uses.
type Reply struct {
	ReplyText      string
	ConversationID string
}

// ParseReply decodes a start/message response body.
//
// The server has used both snake_case and camelCase field names. For each
// field the snake_case spelling wins when both are present and non-empty.
// Numeric conversation ids are rendered as decimal strings.
func ParseReply(body []byte) (Reply, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Reply{}, fmt.Errorf("parse reply: %w", err)
	}
	if raw == nil {
		return Reply{}, fmt.Errorf("parse reply: body is not a JSON object")
	}

	return Reply{
		ReplyText:      firstString(raw, "reply_text", "replyText"),
		ConversationID: firstString(raw, "conversation_id", "conversationId"),
	}, nil
}

// firstString returns the first non-empty string or number among keys.
func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}
