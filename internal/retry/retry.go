package retry

import (
	"context"
	"time"
)

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds how many times an operation runs and how long to wait between runs.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	// Retryable reports whether a failure is worth another attempt.
	// A nil classifier retries everything.
	Retryable func(err error) bool
}

// DefaultPolicy retries three times starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second, 30*time.Second),
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// attempt is zero-based. Between attempts it sleeps Backoff(attempt) using sleep;
// a cancelled context during the sleep returns the context error.
func (p Policy) Do(ctx context.Context, sleep Sleeper, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if serr := sleep(ctx, p.delay(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return ExponentialBackoff(attempt, time.Second)
	}
	return p.Backoff(attempt)
}
