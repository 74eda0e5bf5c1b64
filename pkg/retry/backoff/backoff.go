// Package backoff computes the delay between two attempts of a retried call.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy returns the delay after the given failed attempt. Attempts start
// at 1.
type Strategy func(attempt uint) time.Duration

// Constant waits the same interval after every attempt.
func Constant(interval time.Duration) Strategy {
	return func(uint) time.Duration {
		return interval
	}
}

// Linear waits step, 2*step, 3*step, ...
func Linear(step time.Duration) Strategy {
	return func(attempt uint) time.Duration {
		return saturate(float64(step) * float64(attempt))
	}
}

// Exponential waits initial * factor^(attempt-1).
func Exponential(initial time.Duration, factor float64) Strategy {
	return func(attempt uint) time.Duration {
		if attempt == 0 {
			attempt = 1
		}
		return saturate(float64(initial) * math.Pow(factor, float64(attempt-1)))
	}
}

// BinaryExponential doubles the delay after every attempt.
func BinaryExponential(initial time.Duration) Strategy {
	return Exponential(initial, 2)
}

// Cap bounds the delay of s.
func (s Strategy) Cap(limit time.Duration) Strategy {
	return func(attempt uint) time.Duration {
		if delay := s(attempt); delay < limit {
			return delay
		}
		return limit
	}
}

// Jitter spreads the delay of s uniformly over +/- fraction of itself, so
// that clients failing together do not retry together.
func (s Strategy) Jitter(fraction float64) Strategy {
	return func(attempt uint) time.Duration {
		delay := float64(s(attempt))
		return saturate(delay * (1 + fraction*(2*rand.Float64()-1)))
	}
}

func saturate(delay float64) time.Duration {
	if delay >= math.MaxInt64 || math.IsNaN(delay) {
		return math.MaxInt64
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
