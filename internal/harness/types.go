package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/chatsync/internal/notify"
)

// Trace event types.
const (
	TraceEnqueue = "enqueue"
	TraceArm     = "arm"
	TracePost    = "post"
	TraceNotify  = "notify"
	TraceFlush   = "flush"
	TraceDrop    = "drop"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

func (e TraceEvent) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%03d %s", e.Seq, e.Type)
	}
	return fmt.Sprintf("%03d %s %s", e.Seq, e.Type, e.Detail)
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every flush expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Calls are the outbound POST targets in order.
	Calls []string `json:"calls"`

	// Events are the notifications in order.
	Events []notify.Event `json:"events"`

	// Remaining are the ids still queued after the last step.
	Remaining []int64 `json:"remaining"`
}

// NewResult creates a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Calls:     []string{},
		Events:    []notify.Event{},
		Remaining: []int64{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(typ, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Seq: len(r.Trace) + 1, Type: typ, Detail: detail})
}

// TraceText renders the trace one event per line.
func (r *Result) TraceText() string {
	var b strings.Builder
	for _, ev := range r.Trace {
		b.WriteString(ev.String())
		b.WriteByte('\n')
	}
	return b.String()
}
