package engine

import (
	"time"

	"github.com/roach88/chatsync/internal/ir"
)

// Pass outcomes reported to Observer.PassFinished.
const (
	OutcomeEmpty   = "empty"
	OutcomeCleared = "cleared"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// Observer receives engine activity. Implementations must be cheap and
// non-blocking; they run inline with the pass.
type Observer interface {
	OperationQueued(kind ir.Kind)
	OperationDelivered(kind ir.Kind, took time.Duration)
	OperationDeferred()
	OperationSkipped(kind ir.Kind)
	PassFinished(outcome string, remaining int)
}

type nopObserver struct{}

func (nopObserver) OperationQueued(ir.Kind)                  {}
func (nopObserver) OperationDelivered(ir.Kind, time.Duration) {}
func (nopObserver) OperationDeferred()                        {}
func (nopObserver) OperationSkipped(ir.Kind)                  {}
func (nopObserver) PassFinished(string, int)                  {}
