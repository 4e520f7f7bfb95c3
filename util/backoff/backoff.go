package backoff

import (
	"context"
	"time"
)

// Backoff implements exponential backoff with configurable parameters.
// A Backoff is not safe for concurrent use.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	currentDelay time.Duration
	attempts     int
}

// New creates a new Backoff.
// initialDelay is the delay before the first retry, maxDelay caps every later delay
// and multiplier is applied to the delay after each completed wait.
func New(initialDelay, maxDelay time.Duration, multiplier float64) *Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return &Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		currentDelay: initialDelay,
	}
}

// Wait waits for the current backoff duration, respecting context cancellation.
// Returns ctx.Err() if the context is done before the delay elapses.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.attempts++
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.multiplier)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset resets the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
	b.attempts = 0
}

// CurrentDelay returns the delay the next Wait will use.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}

// Attempts returns the number of completed waits since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Retry calls op until it succeeds, waiting between attempts. onError, if not nil,
// is called with every failure before the wait. Retry returns nil on success or
// the context error once ctx is done.
func (b *Backoff) Retry(ctx context.Context, op func(ctx context.Context) error, onError func(err error, next time.Duration)) error {
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if onError != nil {
			onError(err, b.currentDelay)
		}
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
}
