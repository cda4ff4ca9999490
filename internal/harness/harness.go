package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/ir"
	"github.com/roach88/chatsync/internal/notify"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/testutil"
	"github.com/roach88/chatsync/internal/transport"
)

// Harness runs one scenario. Every run gets a fresh store, poster and
// clock.
type Harness struct {
	scenario *Scenario
	store    *store.Memory
	poster   *testutil.ScriptedPoster
	engine   *engine.Engine
	result   *Result
}

// Run executes a scenario and evaluates its assertions.
//
// The returned error reports a harness problem (a step that could not be
// executed at all); scenario failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		store:    store.NewMemory(),
		poster:   testutil.NewScriptedPoster(),
		result:   NewResult(),
	}
	defer h.store.Close()

	opts := []engine.EngineOption{
		engine.WithClock(testutil.NewStepClock(testutil.Epoch, time.Second)),
	}
	if scenario.Deferred {
		opts = append(opts, engine.WithArmer(tracingArmer{h.result}))
	}
	h.engine = engine.New(h.store, tracingPoster{h.poster, h.result}, tracingNotifier{h.result}, opts...)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	ops, err := h.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read remaining operations: %w", err)
	}
	for _, op := range ops {
		h.result.Remaining = append(h.result.Remaining, op.ID)
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) execute(ctx context.Context, index int, step Step) error {
	switch {
	case step.Enqueue != nil:
		return h.enqueue(ctx, step.Enqueue)
	case len(step.Respond) > 0:
		h.respond(step.Respond)
	case step.Offline > 0:
		for i := 0; i < step.Offline; i++ {
			h.poster.Push(testutil.Offline())
		}
	case step.Flush != nil:
		h.flush(ctx, index, step.Flush)
	case step.Drop != 0:
		if err := h.engine.Discard(ctx, step.Drop); err != nil {
			return err
		}
		h.result.record(TraceDrop, fmt.Sprintf("id=%d", step.Drop))
	}
	return nil
}

func (h *Harness) enqueue(ctx context.Context, step *EnqueueStep) error {
	base := step.Endpoint
	if base == "" {
		base = h.scenario.Endpoint
	}
	req := ir.Request{
		Kind:            ir.Kind(step.Kind),
		EndpointBase:    base,
		Headers:         step.Headers,
		PlaceholderID:   step.Placeholder,
		ConversationID:  step.Conversation,
		ClientMessageID: step.ClientMessageID,
	}
	if step.Payload != nil {
		payload, err := json.Marshal(step.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		req.Payload = payload
	}

	// Record before calling: inline replays trace their posts inside
	// Enqueue.
	at := len(h.result.Trace)
	h.result.record(TraceEnqueue, "")

	id, err := h.engine.Enqueue(ctx, req)
	detail := describeRequest(req)
	if err != nil {
		detail += " error=" + errorCode(err)
	} else {
		detail = fmt.Sprintf("id=%d %s", id, detail)
	}
	h.result.Trace[at].Detail = detail
	return nil
}

func (h *Harness) respond(replies []Response) {
	for _, r := range replies {
		reply := testutil.Reply{Status: r.Status, Body: r.Body}
		if reply.Status == 0 {
			reply.Status = 200
		}
		if reply.Body == "" {
			reply.Body = "{}"
		}
		if r.Offline {
			reply = testutil.Offline()
		}
		if r.Target != "" {
			h.poster.On(r.Target, reply)
		} else {
			h.poster.Push(reply)
		}
	}
}

func (h *Harness) flush(ctx context.Context, index int, step *FlushStep) {
	res, err := h.engine.Flush(ctx)

	outcome := ExpectCleared
	switch {
	case res.Aborted:
		outcome = ExpectAborted
	case res.Snapshot == 0 && err == nil:
		outcome = ExpectEmpty
	}

	detail := fmt.Sprintf("outcome=%s delivered=%v deferred=%v skipped=%v",
		outcome, ids(res.Delivered), ids(res.Deferred), ids(res.Skipped))
	if res.FailedID != 0 {
		detail += fmt.Sprintf(" failed=%d", res.FailedID)
	}
	if err != nil {
		detail += " error=" + errorCode(err)
	}
	h.result.record(TraceFlush, detail)

	if step.Expect != "" && step.Expect != outcome {
		h.result.AddError(fmt.Sprintf("steps[%d].flush: expected %s, got %s", index, step.Expect, outcome))
	}
}

func describeRequest(req ir.Request) string {
	parts := []string{"kind=" + string(req.Kind)}
	if req.PlaceholderID != "" {
		parts = append(parts, "placeholder="+req.PlaceholderID)
	}
	if req.ConversationID != "" {
		parts = append(parts, "conversation="+req.ConversationID)
	}
	if req.ClientMessageID != "" {
		parts = append(parts, "client_message="+req.ClientMessageID)
	}
	return strings.Join(parts, " ")
}

func ids(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

func errorCode(err error) string {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	return err.Error()
}

type tracingPoster struct {
	next   *testutil.ScriptedPoster
	result *Result
}

func (p tracingPoster) Post(ctx context.Context, target string, headers map[string]string, body []byte) (*transport.Response, error) {
	p.result.Calls = append(p.result.Calls, target)
	resp, err := p.next.Post(ctx, target, headers, body)
	switch {
	case err != nil:
		p.result.record(TracePost, target+" -> offline")
	default:
		p.result.record(TracePost, fmt.Sprintf("%s -> %d %s", target, resp.StatusCode, resp.Body))
	}
	return resp, err
}

type tracingNotifier struct {
	result *Result
}

func (n tracingNotifier) Notify(_ context.Context, ev notify.Event) {
	n.result.Events = append(n.result.Events, ev)

	detail := string(ev.Type)
	if ev.Type == notify.TypeChatResponse {
		detail += " conversation=" + ev.ConversationID
		if ev.ClientMessageID != "" {
			detail += " client_message=" + ev.ClientMessageID
		}
		if ev.ReplyText != "" {
			detail += fmt.Sprintf(" reply=%q", ev.ReplyText)
		}
	} else if ev.Message != "" {
		detail += fmt.Sprintf(" %q", ev.Message)
	}
	n.result.record(TraceNotify, detail)
}

type tracingArmer struct {
	result *Result
}

func (a tracingArmer) Arm(context.Context) error {
	a.result.record(TraceArm, "")
	return nil
}
