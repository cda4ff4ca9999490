// Package trigger decides when a replay pass runs: on connectivity
// restoration after Arm, or on a cron schedule.
package trigger

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Arm when no deferred trigger is available.
// The engine then replays inline.
var ErrUnsupported = errors.New("deferred replay trigger unsupported")

// FlushFunc runs one replay pass. A non-nil error means the backlog is
// not known to be drained.
type FlushFunc func(ctx context.Context) error
