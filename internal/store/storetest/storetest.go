// Package storetest is a behavioural test suite shared by every durable
// store driver.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/ir"
)

// Store is the driver surface under test.
type Store interface {
	Append(ctx context.Context, op ir.PendingOperation) (int64, error)
	ListAll(ctx context.Context) ([]ir.PendingOperation, error)
	Remove(ctx context.Context, id int64) error
	PutResolution(ctx context.Context, placeholderID, conversationID string, at time.Time) error
	Resolutions(ctx context.Context) (map[string]string, error)
	PruneResolutions(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Suite describes a driver to the conformance tests.
type Suite struct {
	// Open returns a store rooted at dir. Calling it twice with the same dir
	// after Close must observe the same data when Persistent is set.
	Open func(t *testing.T, dir string) Store

	// Persistent enables the restart tests.
	Persistent bool
}

// Run executes every conformance test against the driver.
func Run(t *testing.T, s Suite) {
	t.Run("EmptyListIsNotNil", s.testEmptyList)
	t.Run("AppendAssignsIncreasingIDs", s.testIncreasingIDs)
	t.Run("ListAllPreservesOrderAndFields", s.testOrderAndFields)
	t.Run("RemoveDeletesOnlyTarget", s.testRemove)
	t.Run("RemoveMissingIsNoop", s.testRemoveMissing)
	t.Run("IDsNotReusedAfterRemove", s.testNoReuse)
	t.Run("DuplicateIdempotencyKey", s.testDuplicateKey)
	t.Run("SameInstantOperationsStayDistinct", s.testSameInstant)
	t.Run("ResolutionsOverwrite", s.testResolutions)
	t.Run("PruneResolutions", s.testPrune)
	if s.Persistent {
		t.Run("SurvivesReopen", s.testReopen)
		t.Run("IDsNotReusedAfterReopen", s.testNoReuseAfterReopen)
	}
}

var baseTime = time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

// Op builds a fingerprinted operation for tests. Offset shifts CreatedAt;
// every call gets its own idempotency key.
func Op(t *testing.T, kind ir.Kind, placeholder, conversation string, offset time.Duration) ir.PendingOperation {
	t.Helper()
	req := ir.Request{
		Kind:            kind,
		EndpointBase:    "https://chat.example.test/v1/widget",
		Headers:         map[string]string{"Authorization": "Bearer t0k"},
		Payload:         json.RawMessage(`{"text": "hello"}`),
		PlaceholderID:   placeholder,
		ConversationID:  conversation,
		ClientMessageID: "cm-" + placeholder,
	}
	op, err := req.Operation(baseTime.Add(offset))
	require.NoError(t, err)
	return op
}

func (s Suite) open(t *testing.T, dir string) Store {
	t.Helper()
	st := s.Open(t, dir)
	t.Cleanup(func() { st.Close() })
	return st
}

func (s Suite) testEmptyList(t *testing.T) {
	st := s.open(t, t.TempDir())

	ops, err := st.ListAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ops)
	assert.Empty(t, ops)
}

func (s Suite) testIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	var last int64
	for i := 0; i < 5; i++ {
		id, err := st.Append(ctx, Op(t, ir.KindStart, "p", "", time.Duration(i)))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func (s Suite) testOrderAndFields(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	first := Op(t, ir.KindStart, "p1", "", 0)
	second := Op(t, ir.KindMessage, "p1", "", time.Second)
	third := Op(t, ir.Kind("typing"), "", "c9", 2*time.Second)
	third.Headers = map[string]string{}
	third.Payload = nil

	var ids []int64
	for _, op := range []ir.PendingOperation{first, second, third} {
		id, err := st.Append(ctx, op)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ops, err := st.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID, "position %d", i)
	}

	got := ops[0]
	assert.Equal(t, ir.KindStart, got.Kind)
	assert.Equal(t, first.EndpointBase, got.EndpointBase)
	assert.Equal(t, map[string]string{"Authorization": "Bearer t0k"}, got.Headers)
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Payload))
	assert.Equal(t, "p1", got.PlaceholderID)
	assert.Empty(t, got.ConversationID)
	assert.Equal(t, "cm-p1", got.ClientMessageID)
	assert.Equal(t, first.IdempotencyKey, got.IdempotencyKey)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, first.CreatedAt)

	assert.Equal(t, ir.KindMessage, ops[1].Kind)

	unknown := ops[2]
	assert.Equal(t, ir.Kind("typing"), unknown.Kind)
	assert.Equal(t, "c9", unknown.ConversationID)
	assert.Empty(t, unknown.Headers)
	assert.Empty(t, unknown.Payload)
	assert.Equal(t, "{}", string(unknown.Body()))
}

func (s Suite) testRemove(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	id1, err := st.Append(ctx, Op(t, ir.KindStart, "a", "", 0))
	require.NoError(t, err)
	id2, err := st.Append(ctx, Op(t, ir.KindStart, "b", "", 1))
	require.NoError(t, err)
	id3, err := st.Append(ctx, Op(t, ir.KindStart, "c", "", 2))
	require.NoError(t, err)

	require.NoError(t, st.Remove(ctx, id2))

	ops, err := st.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, id1, ops[0].ID)
	assert.Equal(t, id3, ops[1].ID)
}

func (s Suite) testRemoveMissing(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	id, err := st.Append(ctx, Op(t, ir.KindStart, "a", "", 0))
	require.NoError(t, err)

	require.NoError(t, st.Remove(ctx, id+100))
	require.NoError(t, st.Remove(ctx, id))
	require.NoError(t, st.Remove(ctx, id))

	ops, err := st.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func (s Suite) testNoReuse(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	_, err := st.Append(ctx, Op(t, ir.KindStart, "a", "", 0))
	require.NoError(t, err)
	id2, err := st.Append(ctx, Op(t, ir.KindStart, "b", "", 1))
	require.NoError(t, err)
	require.NoError(t, st.Remove(ctx, id2))

	id3, err := st.Append(ctx, Op(t, ir.KindStart, "c", "", 2))
	require.NoError(t, err)
	assert.Greater(t, id3, id2)
}

func (s Suite) testDuplicateKey(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	op := Op(t, ir.KindMessage, "", "c1", 0)
	id1, err := st.Append(ctx, op)
	require.NoError(t, err)
	id2, err := st.Append(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	ops, err := st.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func (s Suite) testSameInstant(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	id1, err := st.Append(ctx, Op(t, ir.KindMessage, "", "c1", 0))
	require.NoError(t, err)
	id2, err := st.Append(ctx, Op(t, ir.KindMessage, "", "c1", 0))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	ops, err := st.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func (s Suite) testResolutions(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	got, err := st.Resolutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, st.PutResolution(ctx, "p1", "c1", baseTime))
	require.NoError(t, st.PutResolution(ctx, "p2", "c2", baseTime))
	require.NoError(t, st.PutResolution(ctx, "p1", "c3", baseTime.Add(time.Minute)))

	got, err = st.Resolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1": "c3", "p2": "c2"}, got)
}

func (s Suite) testPrune(t *testing.T) {
	ctx := context.Background()
	st := s.open(t, t.TempDir())

	require.NoError(t, st.PutResolution(ctx, "old", "c1", baseTime))
	require.NoError(t, st.PutResolution(ctx, "new", "c2", baseTime.Add(time.Hour)))

	n, err := st.PruneResolutions(ctx, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.Resolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"new": "c2"}, got)

	n, err = st.PruneResolutions(ctx, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (s Suite) testReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := s.Open(t, dir)
	id, err := st.Append(ctx, Op(t, ir.KindStart, "p1", "", 0))
	require.NoError(t, err)
	require.NoError(t, st.PutResolution(ctx, "p0", "c0", baseTime))
	require.NoError(t, st.Close())

	st = s.open(t, dir)
	ops, err := st.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, id, ops[0].ID)
	assert.Equal(t, "p1", ops[0].PlaceholderID)

	res, err := st.Resolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p0": "c0"}, res)
}

func (s Suite) testNoReuseAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := s.Open(t, dir)
	_, err := st.Append(ctx, Op(t, ir.KindStart, "a", "", 0))
	require.NoError(t, err)
	id2, err := st.Append(ctx, Op(t, ir.KindStart, "b", "", 1))
	require.NoError(t, err)
	require.NoError(t, st.Remove(ctx, id2))
	require.NoError(t, st.Close())

	st = s.open(t, dir)
	id3, err := st.Append(ctx, Op(t, ir.KindStart, "c", "", 2))
	require.NoError(t, err)
	assert.Greater(t, id3, id2)
}
