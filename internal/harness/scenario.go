package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chatsync/internal/notify"
)

// Scenario is a scripted sequence of queue operations and backend replies.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Endpoint is the endpoint base used by enqueue steps that omit one.
	Endpoint string `yaml:"endpoint"`

	// Deferred makes enqueue arm the trigger instead of replaying inline.
	Deferred bool `yaml:"deferred,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step sets exactly one action.
type Step struct {
	Enqueue *EnqueueStep `yaml:"enqueue,omitempty"`
	Respond []Response   `yaml:"respond,omitempty"`
	Offline int          `yaml:"offline,omitempty"`
	Flush   *FlushStep   `yaml:"flush,omitempty"`
	Drop    int64        `yaml:"drop,omitempty"`
}

func (s Step) actions() int {
	n := 0
	if s.Enqueue != nil {
		n++
	}
	if len(s.Respond) > 0 {
		n++
	}
	if s.Offline > 0 {
		n++
	}
	if s.Flush != nil {
		n++
	}
	if s.Drop != 0 {
		n++
	}
	return n
}

// EnqueueStep describes a request to queue.
type EnqueueStep struct {
	Kind            string            `yaml:"kind"`
	Endpoint        string            `yaml:"endpoint,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	Payload         map[string]any    `yaml:"payload,omitempty"`
	Placeholder     string            `yaml:"placeholder,omitempty"`
	Conversation    string            `yaml:"conversation,omitempty"`
	ClientMessageID string            `yaml:"client_message_id,omitempty"`
}

// Response scripts one backend reply. Target, if set, is a path suffix the
// reply is reserved for.
type Response struct {
	Target  string `yaml:"target,omitempty"`
	Status  int    `yaml:"status,omitempty"`
	Body    string `yaml:"body,omitempty"`
	Offline bool   `yaml:"offline,omitempty"`
}

// Flush outcomes a FlushStep can expect.
const (
	ExpectEmpty   = "empty"
	ExpectCleared = "cleared"
	ExpectAborted = "aborted"
)

// FlushStep runs one replay pass. An empty Expect accepts any outcome.
type FlushStep struct {
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates the run after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Targets are the expected POST targets (calls).
	Targets []string `yaml:"targets,omitempty"`

	// Types are the expected notification types (events).
	Types []string `yaml:"types,omitempty"`

	// Event and Count are used by event_count.
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Subset match against chat-response events (chat_response).
	Conversation    string `yaml:"conversation,omitempty"`
	ClientMessageID string `yaml:"client_message_id,omitempty"`
	ReplyText       string `yaml:"reply_text,omitempty"`

	// IDs are the operations expected to remain queued (remaining).
	IDs []int64 `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertCalls        = "calls"
	AssertEvents       = "events"
	AssertEventCount   = "event_count"
	AssertChatResponse = "chat_response"
	AssertRemaining    = "remaining"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
		if step.Enqueue != nil {
			if step.Enqueue.Kind == "" {
				return fmt.Errorf("steps[%d].enqueue: kind is required", i)
			}
			if step.Enqueue.Endpoint == "" && s.Endpoint == "" {
				return fmt.Errorf("steps[%d].enqueue: endpoint is required (or set the scenario endpoint)", i)
			}
		}
		if step.Flush != nil {
			switch step.Flush.Expect {
			case "", ExpectEmpty, ExpectCleared, ExpectAborted:
			default:
				return fmt.Errorf("steps[%d].flush: unknown expect %q", i, step.Flush.Expect)
			}
		}
		if step.Drop < 0 {
			return fmt.Errorf("steps[%d].drop: id must be positive", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCalls, AssertRemaining:
	case AssertEvents:
		for _, typ := range a.Types {
			if !knownEventType(typ) {
				return fmt.Errorf("assertions[%d]: unknown event type %q", index, typ)
			}
		}
	case AssertEventCount:
		if !knownEventType(a.Event) {
			return fmt.Errorf("assertions[%d]: event_count requires a known event type, got %q", index, a.Event)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertChatResponse:
		if a.Conversation == "" && a.ClientMessageID == "" && a.ReplyText == "" {
			return fmt.Errorf("assertions[%d]: chat_response needs at least one field", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownEventType(t string) bool {
	switch notify.Type(t) {
	case notify.TypeQueuedStatus, notify.TypeQueueError, notify.TypeChatResponse, notify.TypeQueueCleared:
		return true
	}
	return false
}
