package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayWithoutJitter(t *testing.T) {
	p := NewPolicy(time.Second, 10*time.Second, false, nil)

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(200))
}

func TestDelayWithJitterStaysInBounds(t *testing.T) {
	p := NewPolicy(time.Second, 60*time.Second, true, rand.New(rand.NewSource(1)))

	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := time.Second << (attempt - 1)
		if ceiling > 60*time.Second {
			ceiling = 60 * time.Second
		}
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, ceiling, "attempt %d", attempt)
	}
}

func TestNewPolicyNormalizes(t *testing.T) {
	p := NewPolicy(0, 0, false, nil)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, time.Second, p.MaxDelay)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := NewPolicy(time.Second, 4*time.Second, false, nil)
	var slept []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	err := Do(context.Background(), p, 5, sleeper, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), 5, func(context.Context, time.Duration) error { return nil },
		func(err error) bool { return !errors.Is(err, permanent) },
		func(context.Context) error {
			calls++
			return permanent
		})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
