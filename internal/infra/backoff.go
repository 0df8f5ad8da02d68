package infra

import (
	"context"
	"errors"
	"time"
)

// Backoff describes a bounded exponential retry schedule.
type Backoff struct {
	Base        time.Duration // delay before the second attempt
	Factor      float64       // growth per attempt, 2 when zero
	Max         time.Duration // cap on a single delay, none when zero
	MaxAttempts int           // total attempts including the first, 1 when zero
}

// Delay returns the wait before attempt n (0-based). Attempt 0 never waits.
func (b Backoff) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 2
	}
	d := float64(b.Base)
	for i := 1; i < n; i++ {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Attempts returns the effective number of attempts.
func (b Backoff) Attempts() int {
	if b.MaxAttempts < 1 {
		return 1
	}
	return b.MaxAttempts
}

// permanent wraps an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err so that Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a Permanent error, the attempts
// run out, or ctx is done. It returns the number of attempts made and the
// last error (unwrapped from Permanent).
func (b Backoff) Retry(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	attempts := b.Attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(b.Delay(attempt)):
			}
		}

		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		var p permanent
		if errors.As(err, &p) {
			return attempt + 1, p.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt + 1, lastErr
		}
	}
	return attempts, lastErr
}
