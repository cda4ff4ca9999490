package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule runs a replay on every tick of a cron expression.
type Schedule struct {
	expr string
	now  func() time.Time
}

// NewSchedule validates expr. Descriptors such as "@every 5m" are not
// accepted; use a five-field expression.
func NewSchedule(expr string) (*Schedule, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	return &Schedule{expr: expr, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Next returns the first tick strictly after t.
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Run calls flush on each tick until ctx is done. Flush errors are logged;
// the next tick retries.
func (s *Schedule) Run(ctx context.Context, flush FlushFunc) error {
	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("schedule %q: %w", s.expr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := flush(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("scheduled replay failed", "cron", s.expr, "error", err)
		}
	}
}
