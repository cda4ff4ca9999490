package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/ir"
	"github.com/roach88/chatsync/internal/notify"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/testutil"
)

const testBase = "https://chat.test/api"

type armerFunc func(ctx context.Context) error

func (f armerFunc) Arm(ctx context.Context) error { return f(ctx) }

// armed never fails, so Enqueue never replays inline.
var armed = armerFunc(func(context.Context) error { return nil })

type harness struct {
	engine   *Engine
	store    *store.Memory
	poster   *testutil.ScriptedPoster
	recorder *notify.Recorder
	clock    *testutil.StepClock
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemory(),
		poster:   testutil.NewScriptedPoster(),
		recorder: &notify.Recorder{},
		clock:    testutil.NewStepClock(testutil.Epoch, time.Second),
	}
	opts = append([]EngineOption{WithClock(h.clock), WithArmer(armed)}, opts...)
	h.engine = New(h.store, h.poster, h.recorder, opts...)
	t.Cleanup(func() { h.store.Close() })
	return h
}

func (h *harness) enqueue(t *testing.T, req ir.Request) int64 {
	t.Helper()
	id, err := h.engine.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (h *harness) pending(t *testing.T) []int64 {
	t.Helper()
	ops, err := h.store.ListAll(context.Background())
	require.NoError(t, err)
	ids := make([]int64, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	return ids
}

func startReq(placeholder, clientMsg string) ir.Request {
	return ir.Request{
		Kind:            ir.KindStart,
		EndpointBase:    testBase,
		Headers:         map[string]string{"Authorization": "Bearer t"},
		Payload:         json.RawMessage(`{"text":"hi"}`),
		PlaceholderID:   placeholder,
		ClientMessageID: clientMsg,
	}
}

func messageReq(placeholder, conversation, clientMsg string) ir.Request {
	return ir.Request{
		Kind:            ir.KindMessage,
		EndpointBase:    testBase,
		Headers:         map[string]string{"Authorization": "Bearer t"},
		Payload:         json.RawMessage(`{"text":"more"}`),
		PlaceholderID:   placeholder,
		ConversationID:  conversation,
		ClientMessageID: clientMsg,
	}
}

// faultyStore injects errors into a memory store.
type faultyStore struct {
	*store.Memory
	appendErr  error
	listErr    error
	removeErr  error
	resolveErr error
}

func (s *faultyStore) Append(ctx context.Context, op ir.PendingOperation) (int64, error) {
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	return s.Memory.Append(ctx, op)
}

func (s *faultyStore) ListAll(ctx context.Context) ([]ir.PendingOperation, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Memory.ListAll(ctx)
}

func (s *faultyStore) Remove(ctx context.Context, id int64) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.Memory.Remove(ctx, id)
}

func (s *faultyStore) PutResolution(ctx context.Context, ph, conv string, at time.Time) error {
	if s.resolveErr != nil {
		return s.resolveErr
	}
	return s.Memory.PutResolution(ctx, ph, conv, at)
}

// countingObserver records observer callbacks.
type countingObserver struct {
	mu        sync.Mutex
	queued    int
	delivered int
	deferred  int
	skipped   int
	outcomes  []string
	remaining []int
}

func (o *countingObserver) OperationQueued(ir.Kind) {
	o.mu.Lock()
	o.queued++
	o.mu.Unlock()
}

func (o *countingObserver) OperationDelivered(ir.Kind, time.Duration) {
	o.mu.Lock()
	o.delivered++
	o.mu.Unlock()
}

func (o *countingObserver) OperationDeferred() {
	o.mu.Lock()
	o.deferred++
	o.mu.Unlock()
}

func (o *countingObserver) OperationSkipped(ir.Kind) {
	o.mu.Lock()
	o.skipped++
	o.mu.Unlock()
}

func (o *countingObserver) PassFinished(outcome string, remaining int) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.remaining = append(o.remaining, remaining)
	o.mu.Unlock()
}
