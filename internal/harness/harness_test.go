package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/notify"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRunRecordsFailedExpectation(t *testing.T) {
	s := mustParse(t, `
name: wrong_expectation
description: "expects a clean pass but the backend is down"
endpoint: http://chat.test
deferred: true
steps:
  - enqueue: { kind: start }
  - offline: 1
  - flush: { expect: cleared }
assertions:
  - type: remaining
    ids: [1]
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected cleared, got aborted")
	assert.Equal(t, []int64{1}, result.Remaining)
}

func TestRunFailedAssertion(t *testing.T) {
	s := mustParse(t, `
name: wrong_calls
description: "asserts a call that never happens"
endpoint: http://chat.test
steps:
  - enqueue: { kind: start }
assertions:
  - type: calls
    targets: [http://chat.test/elsewhere]
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertion[0]")
	assert.Contains(t, result.Errors[0], "Assertion failed: calls")
	assert.Contains(t, result.Errors[0], "http://chat.test/start")
}

func TestRunInlineQueuedStatusFollowsPass(t *testing.T) {
	s := mustParse(t, `
name: inline
description: "inline replay delivers immediately"
endpoint: http://chat.test/
steps:
  - enqueue: { kind: message, conversation: "c 1", payload: { n: 1 } }
assertions:
  - type: calls
    targets: [http://chat.test/c%201/message]
  - type: events
    types: [chat-response, queue-cleared, queued-status]
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, notify.TypeChatResponse, result.Events[0].Type)
	assert.Equal(t, notify.MsgQueued, result.Events[2].Message)
	assert.Empty(t, result.Remaining)
}

func TestRunInvalidRequestIsTraced(t *testing.T) {
	s := mustParse(t, `
name: rejected
description: "an enqueue without endpoint is rejected by the engine"
endpoint: http://chat.test
steps:
  - enqueue: { kind: start, endpoint: "  " }
assertions:
  - type: remaining
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "001 enqueue kind=start error=INVALID_REQUEST", result.Trace[0].String())
}

func TestRunDropMissingIsNoop(t *testing.T) {
	s := mustParse(t, `
name: drop_missing
description: "dropping an unknown id succeeds"
endpoint: http://chat.test
steps:
  - drop: 42
assertions:
  - type: remaining
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, "001 drop id=42\n", result.TraceText())
}

func TestRunSuite(t *testing.T) {
	res, err := RunSuite("testdata/scenarios")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Passed)
	assert.Zero(t, res.Failed)
}

func TestRunSuiteReportsInvalidScenario(t *testing.T) {
	res, err := RunSuite("testdata/invalid")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Errors[0], "exactly one action")
}

func TestRunSuiteMissingDir(t *testing.T) {
	_, err := RunSuite("testdata/nope")
	require.Error(t, err)
}
