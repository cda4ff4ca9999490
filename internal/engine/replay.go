package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/roach88/chatsync/internal/ir"
	"github.com/roach88/chatsync/internal/notify"
)

// PassResult summarizes one replay pass.
type PassResult struct {
	// Snapshot is the number of operations the pass started with.
	Snapshot int `json:"snapshot"`

	Delivered []int64 `json:"delivered"`
	Deferred  []int64 `json:"deferred"`
	Skipped   []int64 `json:"skipped"`

	// FailedID is the operation whose call aborted the pass.
	FailedID int64 `json:"failedId,omitempty"`
	Aborted  bool  `json:"aborted"`
}

// Remaining is the number of snapshot operations still queued.
func (r PassResult) Remaining() int {
	return r.Snapshot - len(r.Delivered)
}

// Flush runs one replay pass over the current backlog.
//
// It waits for a running pass to finish first. A transport failure aborts
// the pass and is returned as a TRANSPORT_FAILURE error after the single
// queue-error notification was emitted; callers that arm retries should
// re-arm on any error.
func (e *Engine) Flush(ctx context.Context) (PassResult, error) {
	if err := e.guard.acquire(ctx); err != nil {
		return PassResult{}, err
	}
	defer e.guard.release()

	return e.pass(ctx)
}

// pass implements the replay state machine. Caller must hold the guard.
func (e *Engine) pass(ctx context.Context) (PassResult, error) {
	ops, err := e.store.ListAll(ctx)
	if err != nil {
		return PassResult{}, e.storageFailure(ctx, newStorageError("list operations", 0, err))
	}
	if len(ops) == 0 {
		e.observer.PassFinished(OutcomeEmpty, 0)
		return PassResult{}, nil
	}

	placeholders, err := e.store.Resolutions(ctx)
	if err != nil {
		return PassResult{}, e.storageFailure(ctx, newStorageError("read resolutions", 0, err))
	}

	result := PassResult{
		Snapshot:  len(ops),
		Delivered: []int64{},
		Deferred:  []int64{},
		Skipped:   []int64{},
	}

	slog.Debug("replay pass starting", "operations", len(ops), "resolutions", len(placeholders))

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			e.observer.PassFinished(OutcomeAborted, result.Remaining())
			return result, err
		}

		conversationID := op.ConversationID
		if conversationID == "" && op.PlaceholderID != "" {
			conversationID = placeholders[op.PlaceholderID]
		}

		var target string
		switch op.Kind {
		case ir.KindStart:
			target = endpoint(op.EndpointBase, "start")
		case ir.KindMessage:
			if conversationID == "" {
				slog.Debug("message deferred: placeholder unresolved",
					"op_id", op.ID,
					"placeholder", op.PlaceholderID,
				)
				result.Deferred = append(result.Deferred, op.ID)
				e.observer.OperationDeferred()
				continue
			}
			target = endpoint(op.EndpointBase, url.PathEscape(conversationID), "message")
		default:
			slog.Warn("skipping operation of unknown kind", "op_id", op.ID, "kind", op.Kind)
			result.Skipped = append(result.Skipped, op.ID)
			e.observer.OperationSkipped(op.Kind)
			continue
		}

		started := e.clock.Now()
		reply, err := e.deliver(ctx, op, target)
		if err != nil {
			slog.Warn("replay call failed, aborting pass",
				"op_id", op.ID,
				"kind", op.Kind,
				"target", target,
				"error", err,
			)
			result.Aborted = true
			result.FailedID = op.ID
			e.notify(ctx, notify.Event{Type: notify.TypeQueueError, Message: notify.MsgReplayFailed})
			e.observer.PassFinished(OutcomeAborted, result.Remaining())
			return result, newTransportError(op.ID, err)
		}

		resolved := reply.ConversationID
		if resolved == "" {
			resolved = conversationID
		}
		if resolved == "" {
			resolved = op.PlaceholderID
		}

		if op.PlaceholderID != "" && resolved != "" {
			placeholders[op.PlaceholderID] = resolved
			if err := e.store.PutResolution(ctx, op.PlaceholderID, resolved, e.clock.Now()); err != nil {
				result.Aborted = true
				e.observer.PassFinished(OutcomeFailed, result.Remaining())
				return result, e.storageFailure(ctx, newStorageError("persist resolution", op.ID, err))
			}
		}

		if err := e.store.Remove(ctx, op.ID); err != nil {
			result.Aborted = true
			e.observer.PassFinished(OutcomeFailed, result.Remaining())
			return result, e.storageFailure(ctx, newStorageError("remove delivered operation", op.ID, err))
		}
		result.Delivered = append(result.Delivered, op.ID)
		e.observer.OperationDelivered(op.Kind, e.clock.Now().Sub(started))

		slog.Info("operation delivered",
			"op_id", op.ID,
			"kind", op.Kind,
			"conversation", resolved,
		)

		e.notify(ctx, notify.Event{
			Type:            notify.TypeChatResponse,
			ConversationID:  resolved,
			ReplyText:       reply.ReplyText,
			ClientMessageID: op.ClientMessageID,
		})
	}

	if e.resolutionTTL > 0 {
		cutoff := e.clock.Now().Add(-e.resolutionTTL)
		if n, err := e.store.PruneResolutions(ctx, cutoff); err != nil {
			slog.Warn("prune resolutions", "error", err)
		} else if n > 0 {
			slog.Debug("pruned resolutions", "count", n)
		}
	}

	e.notify(ctx, notify.Event{Type: notify.TypeQueueCleared})
	e.observer.PassFinished(OutcomeCleared, result.Remaining())
	return result, nil
}

// deliver posts one operation and parses the reply. Any network error,
// non-2xx status or non-JSON body is a failure.
func (e *Engine) deliver(ctx context.Context, op ir.PendingOperation, target string) (ir.Reply, error) {
	resp, err := e.poster.Post(ctx, target, requestHeaders(op), op.Body())
	if err != nil {
		return ir.Reply{}, err
	}
	if !resp.OK() {
		return ir.Reply{}, fmt.Errorf("post %s: status %d", target, resp.StatusCode)
	}
	reply, err := ir.ParseReply(resp.Body)
	if err != nil {
		return ir.Reply{}, fmt.Errorf("post %s: %w", target, err)
	}
	return reply, nil
}

func (e *Engine) storageFailure(ctx context.Context, err *Error) error {
	slog.Error("replay pass storage failure", "error", err)
	e.notify(ctx, notify.Event{Type: notify.TypeQueueError, Message: notify.MsgStorageFailure})
	return err
}

// requestHeaders returns the operation's headers plus Content-Type and
// Idempotency-Key when the client did not set them.
func requestHeaders(op ir.PendingOperation) map[string]string {
	h := make(map[string]string, len(op.Headers)+2)
	for k, v := range op.Headers {
		h[k] = v
	}
	if !hasHeader(h, "Content-Type") {
		h["Content-Type"] = "application/json"
	}
	if op.IdempotencyKey != "" && !hasHeader(h, "Idempotency-Key") {
		h["Idempotency-Key"] = op.IdempotencyKey
	}
	return h
}

func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// endpoint joins path segments onto base with single slashes.
func endpoint(base string, segments ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

