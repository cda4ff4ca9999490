package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Prober checks whether the network path to the backend is up.
// Implemented by transport.Client.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Default probe pacing.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeBurst    = 1

	// MaxFlushBackoff caps the probe interval after consecutive failed
	// flushes.
	MaxFlushBackoff = 5 * time.Minute
)

// Connectivity is a one-shot "replay when the network is back" hook.
//
// Arm sets the hook; Run probes while it is set, at most once per interval
// on average, and calls flush after the first successful probe. A flush
// that returns an error re-arms the hook so the backlog is retried on the
// next successful probe. Each consecutive failed flush doubles the probe
// interval up to MaxFlushBackoff; a successful flush restores it.
type Connectivity struct {
	prober   Prober
	url      string
	interval time.Duration
	limiter  *rate.Limiter
	failures int // consecutive failed flushes, owned by Run

	mu     sync.Mutex
	armed  bool
	signal chan struct{} // Signals arming (buffered, size 1)
}

// NewConnectivity probes url through p. Non-positive interval or burst
// select the defaults. An empty url yields a hook whose Arm always
// returns ErrUnsupported.
func NewConnectivity(p Prober, url string, interval time.Duration, burst int) *Connectivity {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if burst <= 0 {
		burst = DefaultProbeBurst
	}
	return &Connectivity{
		prober:   p,
		url:      url,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
		signal:   make(chan struct{}, 1),
	}
}

// Arm requests a replay on the next successful probe.
// Arming an armed hook is a no-op.
func (c *Connectivity) Arm(ctx context.Context) error {
	if c.prober == nil || c.url == "" {
		return ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setArmed(true)

	// Non-blocking: the buffer of 1 coalesces repeated arms.
	select {
	case c.signal <- struct{}{}:
	default:
	}
	return nil
}

// Armed reports whether a replay is pending.
func (c *Connectivity) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

func (c *Connectivity) setArmed(v bool) {
	c.mu.Lock()
	c.armed = v
	c.mu.Unlock()
}

// Run services the hook until ctx is done. It returns ctx.Err().
func (c *Connectivity) Run(ctx context.Context, flush FlushFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.signal:
		}

		for c.Armed() {
			if err := c.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
			if err := c.prober.Probe(ctx, c.url); err != nil {
				slog.Debug("connectivity probe failed", "url", c.url, "error", err)
				continue
			}

			c.setArmed(false)
			slog.Info("connectivity restored, replaying queue")
			if err := flush(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.failures++
				delay := c.backoff(c.failures)
				c.limiter.SetLimit(rate.Every(delay))
				slog.Warn("replay after reconnect failed, re-arming",
					"error", err,
					"failures", c.failures,
					"retry_in", delay,
				)
				c.setArmed(true)
				continue
			}
			if c.failures > 0 {
				c.failures = 0
				c.limiter.SetLimit(rate.Every(c.interval))
			}
		}
	}
}

// backoff is the probe interval after n consecutive failed flushes.
func (c *Connectivity) backoff(n int) time.Duration {
	d := c.interval
	for i := 0; i < n && d < MaxFlushBackoff; i++ {
		d *= 2
	}
	return min(d, max(c.interval, MaxFlushBackoff))
}
