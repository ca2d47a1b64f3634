package retry

import (
	"context"
	"time"
)

// BackoffFunc returns how long to sleep before retry attempt n.
// Attempt numbering starts at 1 (the first retry after the initial failure).
type BackoffFunc func(attempt int) time.Duration

// Linear returns a backoff that grows by step per attempt: step, 2*step, ...
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Multiplicative returns a backoff that multiplies the base by the attempt
// number: base, 2*base, 3*base, ...
func Multiplicative(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Constant returns a fixed backoff for every attempt.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return d
	}
}

// Do runs fn up to retries+1 times, sleeping per backoff between attempts.
// It stops early when fn succeeds or ctx is cancelled, and returns the
// last error otherwise.
func Do(ctx context.Context, retries int, backoff BackoffFunc, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err = fn(); err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
