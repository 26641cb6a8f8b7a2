package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Policy computes capped exponential backoff delays with optional full jitter.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultPolicy returns a 1s..30s jittered policy
func DefaultPolicy() *Policy {
	return NewPolicy(time.Second, 30*time.Second, true, nil)
}

// NewPolicy builds a policy. A nil rng is seeded from the clock.
func NewPolicy(base, maxDelay time.Duration, jitter bool, rng *rand.Rand) *Policy {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{BaseDelay: base, MaxDelay: maxDelay, Jitter: jitter, rng: rng}
}

// Delay returns the wait before the given attempt; attempt is 1-based.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if !p.Jitter {
		return delay
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(delay) + 1))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, retryable reports false, attempts are
// exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, p *Policy, attempts int, sleep Sleeper, retryable func(error) bool, fn func(context.Context) error) error {
	if sleep == nil {
		sleep = Sleep
	}
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || (retryable != nil && !retryable(err)) {
			return err
		}
		if sleepErr := sleep(ctx, p.Delay(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
