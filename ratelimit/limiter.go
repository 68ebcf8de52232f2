// Package ratelimit paces requests per provider independently of monthly
// quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"property-collector/utils"
)

// ErrRateLimitTimeout is returned when a slot would not be free within the
// configured wait bound.
var ErrRateLimitTimeout = errors.New("rate limit wait exceeded")

// Rule describes the pacing of one provider.
type Rule struct {
	RequestsPerMinute int
	Burst             int
}

// Limiter holds one token bucket per source. Reservations on a bucket are
// granted in call order, so waiters on one source are served FIFO.
type Limiter struct {
	maxWait time.Duration
	logger  *utils.Logger

	mu       sync.Mutex
	rules    map[string]Rule
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a Limiter. Sources without a rule are not paced.
func NewLimiter(rules map[string]Rule, maxWait time.Duration, logger *utils.Logger) *Limiter {
	l := &Limiter{
		maxWait:  maxWait,
		logger:   logger,
		rules:    make(map[string]Rule, len(rules)),
		limiters: make(map[string]*rate.Limiter),
	}
	for src, rule := range rules {
		l.rules[src] = rule
	}
	return l
}

func (l *Limiter) bucket(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[source]; ok {
		return lim
	}
	rule, ok := l.rules[source]
	if !ok || rule.RequestsPerMinute <= 0 {
		l.limiters[source] = nil
		return nil
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(float64(rule.RequestsPerMinute)/60.0), burst)
	l.limiters[source] = lim
	return lim
}

// Acquire blocks until source may issue one request. It fails fast with
// ErrRateLimitTimeout when the wait would exceed the bound, and returns the
// context error when ctx ends first.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	lim := l.bucket(source)
	if lim == nil {
		return nil
	}

	r := lim.Reserve()
	if !r.OK() {
		return fmt.Errorf("ratelimit: %s: %w", source, ErrRateLimitTimeout)
	}

	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if l.maxWait > 0 && delay > l.maxWait {
		r.Cancel()
		l.logger.Warn("[ratelimit] Wait bound exceeded",
			"source", source, "delay", delay, "max_wait", l.maxWait)
		return fmt.Errorf("ratelimit: %s: need %s, bound %s: %w",
			source, delay.Round(time.Millisecond), l.maxWait, ErrRateLimitTimeout)
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
