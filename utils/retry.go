package utils

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryState is a state of the bounded-attempt retry machine.
type RetryState int

const (
	StateAttempting RetryState = iota
	StateBackoff
	StateSucceeded
	StatePermanentlyFailed
)

func (s RetryState) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StatePermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// IsRetryable reports whether a failed attempt may be repeated.
	// A nil func treats every error as retryable.
	IsRetryable func(error) bool
	Logger      *Logger

	// Rand returns a value in [0,1) used for jitter.
	Rand func() float64
	// Sleep blocks for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *RetryConfig) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return 1
	}
	return r.MaxAttempts
}

func (r *RetryConfig) retryable(err error) bool {
	if r.IsRetryable == nil {
		return true
	}
	return r.IsRetryable(err)
}

// Next is the transition taken after attempt number `attempt` returned err.
func (r *RetryConfig) Next(attempt int, err error) RetryState {
	switch {
	case err == nil:
		return StateSucceeded
	case !r.retryable(err):
		return StatePermanentlyFailed
	case attempt >= r.maxAttempts():
		return StatePermanentlyFailed
	default:
		return StateBackoff
	}
}

// Backoff returns the wait before the attempt following `attempt`.
// The exponential delay is capped at MaxDelay and jittered into [d/2, d).
func (r *RetryConfig) Backoff(attempt int) time.Duration {
	mult := r.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(r.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if r.MaxDelay > 0 && d > float64(r.MaxDelay) {
		d = float64(r.MaxDelay)
	}
	rnd := r.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	half := d / 2
	return time.Duration(half + rnd()*half)
}

func (r *RetryConfig) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
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

// Do runs fn until it succeeds, fails permanently, or the attempt budget is spent.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	state := StateAttempting
	attempt := 0
	var lastErr error

	for {
		switch state {
		case StateAttempting:
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%s: %w", operationName, err)
			}
			attempt++
			lastErr = fn(ctx)
			state = r.Next(attempt, lastErr)

		case StateBackoff:
			delay := r.Backoff(attempt)
			if r.Logger != nil {
				r.Logger.Warn("[retry] attempt failed, backing off",
					"operation", operationName,
					"attempt", attempt,
					"max_attempts", r.maxAttempts(),
					"delay", delay,
					"error", lastErr)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: %w", operationName, err)
			}
			state = StateAttempting

		case StateSucceeded:
			return nil

		case StatePermanentlyFailed:
			if attempt > 1 {
				return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempt, lastErr)
			}
			return lastErr
		}
	}
}
