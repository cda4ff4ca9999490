package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/chatsync/internal/notify"
)

// AssertionError is returned when an assertion fails. It carries the
// whole trace for debugging.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", ev)
	}
	return buf.String()
}

func assertCalls(result *Result, a Assertion) error {
	want := a.Targets
	if want == nil {
		want = []string{}
	}
	if slices.Equal(result.Calls, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCalls,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", result.Calls),
		Trace:    result.Trace,
	}
}

func assertEvents(result *Result, a Assertion) error {
	got := make([]string, len(result.Events))
	for i, ev := range result.Events {
		got[i] = string(ev.Type)
	}
	want := a.Types
	if want == nil {
		want = []string{}
	}
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEvents,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    result.Trace,
	}
}

func assertEventCount(result *Result, a Assertion) error {
	count := 0
	for _, ev := range result.Events {
		if string(ev.Type) == a.Event {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%s occurs %d times", a.Event, a.Count),
		Actual:   fmt.Sprintf("%s occurs %d times", a.Event, count),
		Trace:    result.Trace,
	}
}

func assertChatResponse(result *Result, a Assertion) error {
	for _, ev := range result.Events {
		if ev.Type != notify.TypeChatResponse {
			continue
		}
		if a.Conversation != "" && ev.ConversationID != a.Conversation {
			continue
		}
		if a.ClientMessageID != "" && ev.ClientMessageID != a.ClientMessageID {
			continue
		}
		if a.ReplyText != "" && ev.ReplyText != a.ReplyText {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type: AssertChatResponse,
		Expected: fmt.Sprintf("chat-response conversation=%q client_message=%q reply=%q",
			a.Conversation, a.ClientMessageID, a.ReplyText),
		Actual: "not found in events",
		Trace:  result.Trace,
	}
}

func assertRemaining(result *Result, a Assertion) error {
	want := a.IDs
	if want == nil {
		want = []int64{}
	}
	if slices.Equal(result.Remaining, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertRemaining,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", result.Remaining),
		Trace:    result.Trace,
	}
}

// EvaluateAssertions runs every assertion and returns the failure
// messages, each prefixed with its index.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertCalls:
			err = assertCalls(result, a)
		case AssertEvents:
			err = assertEvents(result, a)
		case AssertEventCount:
			err = assertEventCount(result, a)
		case AssertChatResponse:
			err = assertChatResponse(result, a)
		case AssertRemaining:
			err = assertRemaining(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return errs
}
