package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeProber struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *fakeProber) Probe(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("offline")
	}
	return nil
}

func (p *fakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestConnectivity_ArmUnsupportedWithoutURL(t *testing.T) {
	c := NewConnectivity(&fakeProber{}, "", time.Millisecond, 1)
	assert.ErrorIs(t, c.Arm(context.Background()), ErrUnsupported)

	c = NewConnectivity(nil, "http://example.test", time.Millisecond, 1)
	assert.ErrorIs(t, c.Arm(context.Background()), ErrUnsupported)
}

func TestConnectivity_FlushesAfterFirstSuccessfulProbe(t *testing.T) {
	prober := &fakeProber{failures: 2}
	c := NewConnectivity(prober, "http://backend.test/healthz", time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var flushes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(context.Context) error {
			flushes.Add(1)
			return nil
		})
	}()

	require.NoError(t, c.Arm(ctx))
	require.Eventually(t, func() bool { return flushes.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, c.Armed())
	assert.Equal(t, 3, prober.Calls())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(1), flushes.Load(), "one arm means one flush")
}

func TestConnectivity_FailedFlushRearms(t *testing.T) {
	c := NewConnectivity(&fakeProber{}, "http://backend.test/healthz", time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var flushes atomic.Int32
	go c.Run(ctx, func(context.Context) error {
		if flushes.Add(1) == 1 {
			return errors.New("backend rejected")
		}
		return nil
	})

	require.NoError(t, c.Arm(ctx))
	require.Eventually(t, func() bool { return flushes.Load() == 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !c.Armed() }, time.Second, time.Millisecond)
}

func TestConnectivity_FailedFlushesBackOff(t *testing.T) {
	c := NewConnectivity(&fakeProber{}, "http://backend.test/healthz", time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		limits []rate.Limit
	)
	go c.Run(ctx, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		limits = append(limits, c.limiter.Limit())
		if len(limits) <= 3 {
			return errors.New("backend rejected")
		}
		return nil
	})

	require.NoError(t, c.Arm(ctx))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(limits) == 4 && c.limiter.Limit() == rate.Every(time.Millisecond)
	}, 2*time.Second, time.Millisecond)
	assert.False(t, c.Armed())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []rate.Limit{
		rate.Every(time.Millisecond),
		rate.Every(2 * time.Millisecond),
		rate.Every(4 * time.Millisecond),
		rate.Every(8 * time.Millisecond),
	}, limits)
}

func TestConnectivity_BackoffIsCapped(t *testing.T) {
	c := NewConnectivity(&fakeProber{}, "http://backend.test", 5*time.Second, 1)

	assert.Equal(t, 5*time.Second, c.backoff(0))
	assert.Equal(t, 10*time.Second, c.backoff(1))
	assert.Equal(t, 40*time.Second, c.backoff(3))
	assert.Equal(t, MaxFlushBackoff, c.backoff(50))
}

func TestConnectivity_ArmCanceledContext(t *testing.T) {
	c := NewConnectivity(&fakeProber{}, "http://backend.test", time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Arm(ctx), context.Canceled)
	assert.False(t, c.Armed())
}

func TestSchedule_RejectsInvalidExpression(t *testing.T) {
	_, err := NewSchedule("not a cron")
	assert.Error(t, err)
}

func TestSchedule_Next(t *testing.T) {
	s, err := NewSchedule("*/5 * * * *")
	require.NoError(t, err)

	next, err := s.Next(time.Date(2026, 5, 1, 12, 3, 10, 0, time.UTC))
	require.NoError(t, err)
	want := time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC)
	assert.True(t, want.Equal(next), "next = %v, want %v", next, want)
}

func TestSchedule_RunStopsOnCancel(t *testing.T) {
	s, err := NewSchedule("0 0 1 1 *")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Run(ctx, func(context.Context) error {
		t.Error("flush should not run before the first tick")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
