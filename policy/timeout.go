package policy

import (
	"math"
	"time"
)

// Timeout functions accept an attempt, counting from 1, and return how long
// that attempt should be allowed to run.
type Timeout func(attempt int) time.Duration

// ConstantTimeout returns a Timeout function that always returns the same
// duration.
func ConstantTimeout(duration time.Duration) Timeout {
	return func(int) time.Duration {
		return duration
	}
}

// MaxTimeout returns a Timeout function that clamps another Timeout function
// to at most duration.
func MaxTimeout(duration time.Duration, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		if d := timeout(attempt); d < duration {
			return d
		}
		return duration
	}
}

// LinearBackoff returns a Timeout function that scales another Timeout function
// by rate for every attempt after the first.
func LinearBackoff(rate float64, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return timeout(attempt)
		}
		return toDuration(rate * float64(attempt-1) * float64(timeout(attempt)))
	}
}

// ExponentialBackoff returns a Timeout function that scales another Timeout
// function by rate raised to the number of previous attempts.
func ExponentialBackoff(rate float64, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return timeout(attempt)
		}
		return toDuration(math.Pow(rate, float64(attempt-1)) * float64(timeout(attempt)))
	}
}

func toDuration(ns float64) time.Duration {
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
