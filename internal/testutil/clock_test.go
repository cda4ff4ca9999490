package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock_Advances(t *testing.T) {
	c := NewStepClock(time.Time{}, time.Second)

	first := c.Now()
	second := c.Now()

	assert.True(t, first.Equal(Epoch.Add(time.Second)))
	assert.Equal(t, time.Second, second.Sub(first))
	assert.True(t, c.Peek().Equal(second))
}

func TestStepClock_Frozen(t *testing.T) {
	c := NewStepClock(Epoch, 0)
	assert.True(t, c.Now().Equal(c.Now()), "zero step freezes the clock")

	c.Advance(time.Hour)
	assert.True(t, c.Now().Equal(Epoch.Add(time.Hour)))
}

func TestStepClock_Reset(t *testing.T) {
	c := NewStepClock(Epoch, time.Millisecond)
	a := c.Now()
	c.Reset(Epoch)
	assert.True(t, a.Equal(c.Now()))
}

func TestStepClock_Concurrent(t *testing.T) {
	c := NewStepClock(Epoch, time.Nanosecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50*time.Nanosecond, c.Peek().Sub(Epoch))
}
