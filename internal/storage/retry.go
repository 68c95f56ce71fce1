package storage

import (
	"context"
	"math"
	"time"
)

// maxRetryAttempts caps the retry budget regardless of provider count.
const maxRetryAttempts = 3

// RetryConfig holds the backoff schedule for manager operations.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig waits 2^attempt seconds between attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  maxRetryAttempts,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// budget returns min(providers, MaxAttempts), at least 1.
func (c RetryConfig) budget(providers int) int {
	limit := c.MaxAttempts
	if limit <= 0 || limit > maxRetryAttempts {
		limit = maxRetryAttempts
	}
	if providers < limit {
		limit = providers
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// backoff returns the delay after the failed attempt (0-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
