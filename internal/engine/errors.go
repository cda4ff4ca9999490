package engine

import (
	"errors"
	"fmt"
)

// Error represents a failure surfaced by the engine.
//
// Dependency deferral and unknown kinds are not errors; they are reported
// in PassResult.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OperationID identifies the affected operation, zero if none.
	OperationID int64

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeStorageFailure indicates the store failed to append, list or remove.
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"

	// ErrCodeTriggerArmFailure indicates the deferred replay trigger could not be armed.
	ErrCodeTriggerArmFailure ErrorCode = "TRIGGER_ARM_FAILURE"

	// ErrCodeTransportFailure indicates a network error or rejected response during replay.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"

	// ErrCodeInvalidRequest indicates a request was rejected before persistence.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.OperationID != 0 {
		msg = fmt.Sprintf("%s (op=%d)", msg, e.OperationID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if err is, or wraps, a storage failure.
func IsStorageError(err error) bool {
	return hasCode(err, ErrCodeStorageFailure)
}

// IsTransportError returns true if err is, or wraps, a transport failure.
func IsTransportError(err error) bool {
	return hasCode(err, ErrCodeTransportFailure)
}

// IsInvalidRequest returns true if err is, or wraps, a rejected request.
func IsInvalidRequest(err error) bool {
	return hasCode(err, ErrCodeInvalidRequest)
}

// IsTriggerArmError returns true if err is, or wraps, an arm failure.
func IsTriggerArmError(err error) bool {
	return hasCode(err, ErrCodeTriggerArmFailure)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func newStorageError(op string, id int64, err error) *Error {
	return &Error{Code: ErrCodeStorageFailure, Message: op, OperationID: id, Err: err}
}

func newTransportError(id int64, err error) *Error {
	return &Error{Code: ErrCodeTransportFailure, Message: "replay call failed", OperationID: id, Err: err}
}

func newInvalidRequest(err error) *Error {
	return &Error{Code: ErrCodeInvalidRequest, Message: "request rejected", Err: err}
}

func newArmError(err error) *Error {
	return &Error{Code: ErrCodeTriggerArmFailure, Message: "arm replay trigger", Err: err}
}
