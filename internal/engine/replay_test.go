package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/ir"
	"github.com/roach88/chatsync/internal/notify"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/testutil"
	"github.com/roach88/chatsync/internal/transport"
)

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		result, err := h.engine.Flush(context.Background())
		require.NoError(t, err)
		assert.Equal(t, PassResult{}, result)
	}

	assert.Empty(t, h.poster.Calls())
	assert.Empty(t, h.recorder.Events())
}

func TestFlush_FIFO(t *testing.T) {
	h := newHarness(t)
	a := h.enqueue(t, messageReq("", "c1", "m1"))
	b := h.enqueue(t, messageReq("", "c2", "m2"))
	c := h.enqueue(t, messageReq("", "c3", "m3"))
	h.recorder.Reset()

	result, err := h.engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{a, b, c}, result.Delivered)
	assert.Equal(t, 3, result.Snapshot)
	assert.False(t, result.Aborted)
	assert.Equal(t, []string{
		testBase + "/c1/message",
		testBase + "/c2/message",
		testBase + "/c3/message",
	}, h.poster.Targets())
	assert.Empty(t, h.pending(t))

	assert.Equal(t, []notify.Type{
		notify.TypeChatResponse,
		notify.TypeChatResponse,
		notify.TypeChatResponse,
		notify.TypeQueueCleared,
	}, h.recorder.Types())
}

func TestFlush_PassAbortsOnFirstFailure(t *testing.T) {
	h := newHarness(t)
	a := h.enqueue(t, messageReq("", "c1", "m1"))
	b := h.enqueue(t, messageReq("", "c2", "m2"))
	c := h.enqueue(t, messageReq("", "c3", "m3"))
	h.recorder.Reset()

	h.poster.Push(testutil.OK(`{"reply_text":"ok"}`), testutil.Status(503))

	result, err := h.engine.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransportError(err))

	assert.Equal(t, []int64{a}, result.Delivered)
	assert.True(t, result.Aborted)
	assert.Equal(t, b, result.FailedID)
	assert.Equal(t, 2, result.Remaining())
	assert.Equal(t, []int64{b, c}, h.pending(t))
	assert.Len(t, h.poster.Calls(), 2, "operations after the failure are not attempted")

	events := h.recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, notify.TypeChatResponse, events[0].Type)
	assert.Equal(t, notify.TypeQueueError, events[1].Type)
	assert.Equal(t, notify.MsgReplayFailed, events[1].Message)
}

func TestFlush_NetworkErrorAbortsPass(t *testing.T) {
	h := newHarness(t)
	a := h.enqueue(t, startReq("p1", "m1"))
	h.recorder.Reset()
	h.poster.Push(testutil.Offline())

	result, err := h.engine.Flush(context.Background())
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, testutil.ErrOffline)
	assert.Equal(t, a, result.FailedID)
	assert.Equal(t, []int64{a}, h.pending(t))
	assert.Equal(t, []notify.Type{notify.TypeQueueError}, h.recorder.Types())
}

func TestFlush_UnparseableReplyIsFailure(t *testing.T) {
	h := newHarness(t)
	a := h.enqueue(t, startReq("p1", "m1"))
	h.poster.Push(testutil.OK(`<html>gateway</html>`))

	_, err := h.engine.Flush(context.Background())
	assert.True(t, IsTransportError(err))
	assert.Equal(t, []int64{a}, h.pending(t))
}

func TestFlush_ResolvesPlaceholderWithinPass(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, startReq("p1", "m1"))
	h.enqueue(t, messageReq("p1", "", "m2"))
	h.recorder.Reset()

	h.poster.On("/start", testutil.OK(`{"reply_text":"welcome","conversation_id":"c1"}`))
	h.poster.On("/c1/message", testutil.OK(`{"replyText":"got it"}`))

	result, err := h.engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Delivered, 2)

	assert.Equal(t, []string{testBase + "/start", testBase + "/c1/message"}, h.poster.Targets())
	assert.Empty(t, h.pending(t))

	events := h.recorder.Events()
	require.Len(t, events, 3)
	assert.Equal(t, notify.Event{
		Type:            notify.TypeChatResponse,
		ConversationID:  "c1",
		ReplyText:       "welcome",
		ClientMessageID: "m1",
		At:              events[0].At,
	}, events[0])
	assert.Equal(t, "c1", events[1].ConversationID)
	assert.Equal(t, "got it", events[1].ReplyText)
	assert.Equal(t, "m2", events[1].ClientMessageID)
	assert.Equal(t, notify.TypeQueueCleared, events[2].Type)
	assert.Empty(t, events[2].Message)

	res, err := h.store.Resolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1": "c1"}, res)
}

func TestFlush_DefersUnresolvedMessage(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, messageReq("p1", "", "m1"))
	h.recorder.Reset()

	result, err := h.engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{id}, result.Deferred)
	assert.Empty(t, result.Delivered)
	assert.Equal(t, []int64{id}, h.pending(t))
	assert.Empty(t, h.poster.Calls())
	assert.Equal(t, []notify.Type{notify.TypeQueueCleared}, h.recorder.Types(),
		"deferral is not a failure")
}

func TestFlush_ResolvesAcrossPasses(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, startReq("p1", "m1"))
	blocker := h.enqueue(t, messageReq("", "other", "m2"))
	dependent := h.enqueue(t, messageReq("p1", "", "m3"))

	h.poster.On("/start", testutil.OK(`{"conversation_id":"c1"}`))
	h.poster.On("/other/message", testutil.Offline())

	_, err := h.engine.Flush(context.Background())
	require.True(t, IsTransportError(err))
	assert.Equal(t, []int64{blocker, dependent}, h.pending(t))

	// The start is gone; its resolution must survive for the next pass.
	result, err := h.engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{blocker, dependent}, result.Delivered)
	assert.Equal(t, []string{
		testBase + "/start",
		testBase + "/other/message",
		testBase + "/other/message",
		testBase + "/c1/message",
	}, h.poster.Targets())
}

func TestFlush_ReplyWithoutConversationFallsBack(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, startReq("p1", "m1"))
	h.enqueue(t, messageReq("p1", "", "m2"))
	h.recorder.Reset()

	// No id in either reply: the placeholder stands in for the conversation.
	_, err := h.engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{testBase + "/start", testBase + "/p1/message"}, h.poster.Targets())
	assert.Equal(t, "p1", h.recorder.Events()[0].ConversationID)
}

func TestFlush_PreKnownConversationWins(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, messageReq("p1", "c7", "m1"))
	h.enqueue(t, messageReq("p1", "", "m2"))

	_, err := h.engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{testBase + "/c7/message", testBase + "/c7/message"}, h.poster.Targets())
}

func TestFlush_SkipsUnknownKinds(t *testing.T) {
	h := newHarness(t)
	req := messageReq("", "c1", "m1")
	req.Kind = ir.Kind("typing")
	unknown := h.enqueue(t, req)
	known := h.enqueue(t, messageReq("", "c1", "m2"))

	result, err := h.engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{unknown}, result.Skipped)
	assert.Equal(t, []int64{known}, result.Delivered)
	assert.Equal(t, []int64{unknown}, h.pending(t), "unknown kinds stay until discarded")

	require.NoError(t, h.engine.Discard(context.Background(), unknown))
	assert.Empty(t, h.pending(t))
}

func TestFlush_RequestShape(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, messageReq("", "a/b", "m1"))

	req := messageReq("", "c1", "m2")
	req.Headers = map[string]string{"content-type": "application/json; charset=utf-8"}
	req.Payload = nil
	h.enqueue(t, req)

	_, err := h.engine.Flush(context.Background())
	require.NoError(t, err)

	calls := h.poster.Calls()
	require.Len(t, calls, 2)

	first := calls[0]
	assert.Equal(t, testBase+"/a%2Fb/message", first.Target)
	assert.Equal(t, "Bearer t", first.Headers["Authorization"])
	assert.Equal(t, "application/json", first.Headers["Content-Type"])
	assert.Len(t, first.Headers["Idempotency-Key"], 64)
	assert.JSONEq(t, `{"text":"more"}`, first.Body)

	second := calls[1]
	assert.Equal(t, "application/json; charset=utf-8", second.Headers["content-type"])
	assert.NotContains(t, second.Headers, "Content-Type")
	assert.Equal(t, "{}", second.Body)
}

func TestFlush_RetrySendsSameIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, startReq("p1", "m1"))
	h.poster.Push(testutil.Offline())

	_, err := h.engine.Flush(context.Background())
	require.Error(t, err)
	_, err = h.engine.Flush(context.Background())
	require.NoError(t, err)

	calls := h.poster.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Headers["Idempotency-Key"], calls[1].Headers["Idempotency-Key"])
}

func TestFlush_TrailingSlashInBase(t *testing.T) {
	h := newHarness(t)
	req := startReq("p1", "m1")
	req.EndpointBase = testBase + "/"
	h.enqueue(t, req)

	_, err := h.engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testBase + "/start"}, h.poster.Targets())
}

func TestFlush_StorageFailures(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*faultyStore)
	}{
		{"list", func(s *faultyStore) { s.listErr = errors.New("io error") }},
		{"remove", func(s *faultyStore) { s.removeErr = errors.New("io error") }},
		{"resolution", func(s *faultyStore) { s.resolveErr = errors.New("io error") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &faultyStore{Memory: store.NewMemory()}
			rec := &notify.Recorder{}
			e := New(fs, testutil.NewScriptedPoster(), rec, WithArmer(armed))

			_, err := e.Enqueue(context.Background(), startReq("p1", "m1"))
			require.NoError(t, err)
			rec.Reset()
			tt.inject(fs)

			_, err = e.Flush(context.Background())
			require.Error(t, err)
			assert.True(t, IsStorageError(err))

			events := rec.Events()
			require.Len(t, events, 1)
			assert.Equal(t, notify.TypeQueueError, events[0].Type)
			assert.Equal(t, notify.MsgStorageFailure, events[0].Message)
		})
	}
}

func TestFlush_PrunesExpiredResolutions(t *testing.T) {
	h := newHarness(t, WithResolutionTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, h.store.PutResolution(ctx, "stale", "c0", testutil.Epoch.Add(-2*time.Hour)))
	h.enqueue(t, startReq("p1", "m1"))
	h.poster.Push(testutil.OK(`{"conversation_id":"c1"}`))

	_, err := h.engine.Flush(ctx)
	require.NoError(t, err)

	res, err := h.store.Resolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1": "c1"}, res)
}

func TestFlush_AbortedPassDoesNotPrune(t *testing.T) {
	h := newHarness(t, WithResolutionTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, h.store.PutResolution(ctx, "stale", "c0", testutil.Epoch.Add(-2*time.Hour)))
	h.enqueue(t, startReq("p1", "m1"))
	h.poster.Push(testutil.Offline())

	_, err := h.engine.Flush(ctx)
	require.Error(t, err)

	res, err := h.store.Resolutions(ctx)
	require.NoError(t, err)
	assert.Contains(t, res, "stale")
}

func TestFlush_CanceledContext(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, startReq("p1", "m1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Flush(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.pending(t), 1)
}

// gatedPoster blocks every call until released.
type gatedPoster struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	active int
	peak   int
}

func (p *gatedPoster) Post(ctx context.Context, target string, headers map[string]string, body []byte) (*transport.Response, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()

	p.entered <- struct{}{}
	<-p.release

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return &transport.Response{StatusCode: 200, Body: []byte(`{}`)}, nil
}

func TestFlush_PassesAreSingleFlight(t *testing.T) {
	poster := &gatedPoster{entered: make(chan struct{}, 4), release: make(chan struct{})}
	mem := store.NewMemory()
	e := New(mem, poster, nil, WithArmer(armed))

	_, err := e.Enqueue(context.Background(), startReq("p1", "m1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]PassResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.Flush(context.Background())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	<-poster.entered
	select {
	case <-poster.entered:
		t.Fatal("second pass ran concurrently with the first")
	case <-time.After(20 * time.Millisecond):
	}
	close(poster.release)
	wg.Wait()

	assert.Equal(t, 1, poster.peak)
	assert.Equal(t, 1, len(results[0].Delivered)+len(results[1].Delivered),
		"the operation is delivered exactly once")
}
