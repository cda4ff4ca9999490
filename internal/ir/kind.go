package ir

// Kind identifies the category of a queued operation.
type Kind string

const (
	// KindStart opens a new conversation.
	KindStart Kind = "start"
	// KindMessage posts a message into an existing conversation.
	KindMessage Kind = "message"
)

// Known reports whether the replay engine knows how to dispatch k.
// Unknown kinds are still accepted at enqueue time.
func (k Kind) Known() bool {
	switch k {
	case KindStart, KindMessage:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}
