package retry

import (
	"math"
	"time"
)

// ExponentialBackoff returns delay based on attempt number.
// The delay doubles with each attempt: base * 2^attempt, saturating at
// math.MaxInt64 instead of overflowing.
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if attempt >= 63 || base > math.MaxInt64>>attempt {
		return math.MaxInt64
	}
	return base << attempt
}

// Exponential returns a backoff function capped at max. A max <= 0 disables the cap.
func Exponential(base, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := ExponentialBackoff(attempt, base)
		if max > 0 && d > max {
			return max
		}
		return d
	}
}
