package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := newTransportError(7, errors.New("status 503"))
	assert.Equal(t, "TRANSPORT_FAILURE: replay call failed (op=7): status 503", err.Error())

	err = newInvalidRequest(errors.New("endpoint base is required"))
	assert.Equal(t, "INVALID_REQUEST: request rejected: endpoint base is required", err.Error())
}

func TestError_Predicates(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err                                        error
		storage, transport, invalid, triggerFailed bool
	}{
		{newStorageError("append", 0, cause), true, false, false, false},
		{newTransportError(1, cause), false, true, false, false},
		{newInvalidRequest(cause), false, false, true, false},
		{newArmError(cause), false, false, false, true},
		{cause, false, false, false, false},
		{nil, false, false, false, false},
	}

	for _, tt := range tests {
		wrapped := tt.err
		if wrapped != nil {
			wrapped = fmt.Errorf("outer: %w", tt.err)
		}
		assert.Equal(t, tt.storage, IsStorageError(wrapped), "%v", tt.err)
		assert.Equal(t, tt.transport, IsTransportError(wrapped), "%v", tt.err)
		assert.Equal(t, tt.invalid, IsInvalidRequest(wrapped), "%v", tt.err)
		assert.Equal(t, tt.triggerFailed, IsTriggerArmError(wrapped), "%v", tt.err)
	}
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := newStorageError("append", 0, cause)
	assert.ErrorIs(t, err, cause)
}
