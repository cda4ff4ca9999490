package engine

import "context"

// passGuard is a work-queue-of-one: at most one replay pass holds it.
//
// A buffered channel of size 1 is used instead of a mutex so that waiting
// can be abandoned when ctx is cancelled.
type passGuard struct {
	slot chan struct{}
}

func newPassGuard() *passGuard {
	return &passGuard{slot: make(chan struct{}, 1)}
}

// acquire blocks until the guard is free or ctx is done.
func (g *passGuard) acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *passGuard) release() {
	<-g.slot
}
