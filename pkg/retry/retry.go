// Package retry runs an action until it succeeds or a strategy gives up.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/lendsdk/lendsdk/pkg/retry/backoff"
)

// Action is one attempt of a retried call.
type Action func(ctx context.Context) error

// Strategy decides whether another attempt follows a failed one. Strategies
// may block, as Backoff does.
type Strategy func(ctx context.Context, attempts uint, err error) bool

// Retrier retries actions with a fixed set of strategies.
type Retrier interface {
	Retry(ctx context.Context, action Action) (uint, error)
}

type retrier struct {
	strategies []Strategy
}

// NewRetrier returns a Retrier applying strategies in order. Without
// strategies it retries until the action succeeds or ctx is done.
func NewRetrier(strategies ...Strategy) Retrier {
	return &retrier{strategies: strategies}
}

func (r *retrier) Retry(ctx context.Context, action Action) (uint, error) {
	return Retry(ctx, action, r.strategies...)
}

// Retry runs action until it succeeds, a strategy declines another attempt or
// ctx is done. It returns the number of attempts made and the last error.
//
// Strategies run in order, so those that delay should come last.
func Retry(ctx context.Context, action Action, strategies ...Strategy) (uint, error) {
	var attempts uint
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		attempts++
		err := action(ctx)
		if err == nil {
			return attempts, nil
		}

		for _, s := range strategies {
			if !s(ctx, attempts, err) {
				return attempts, err
			}
		}
	}
}

// Limit stops after maxAttempts attempts in total.
func Limit(maxAttempts uint) Strategy {
	return func(_ context.Context, attempts uint, _ error) bool {
		return attempts < maxAttempts
	}
}

// RetriableErrors only retries errors matching one of targets.
func RetriableErrors(targets ...error) Strategy {
	return func(_ context.Context, _ uint, err error) bool {
		return matches(err, targets)
	}
}

// NonRetriableErrors retries everything except errors matching targets.
func NonRetriableErrors(targets ...error) Strategy {
	return func(_ context.Context, _ uint, err error) bool {
		return !matches(err, targets)
	}
}

// Backoff waits the delay of strategy before the next attempt. The wait is
// cut short, and retrying stops, when ctx is done.
func Backoff(strategy backoff.Strategy) Strategy {
	return func(ctx context.Context, attempts uint, _ error) bool {
		return sleeperImpl.Sleep(ctx, strategy(attempts))
	}
}

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type sleeper interface {
	// Sleep reports false when ctx ended before d elapsed.
	Sleep(ctx context.Context, d time.Duration) bool
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var sleeperImpl sleeper = timerSleeper{}
