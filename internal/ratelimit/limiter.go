// Package ratelimit gates outbound provider calls with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"gwi.com/repo-assistant/internal/metrics"
)

// Limiter allows at most maxRate operations per period. The bucket starts
// full and refills continuously; callers that find it empty are suspended
// until a token is available.
type Limiter struct {
	name string
	rl   *rate.Limiter
}

// New panics on non-positive arguments; config validation rejects them first.
func New(name string, maxRate int, period time.Duration) *Limiter {
	if maxRate <= 0 || period <= 0 {
		panic(fmt.Sprintf("ratelimit: invalid rate %d per %s", maxRate, period))
	}
	perSecond := float64(maxRate) / period.Seconds()
	return &Limiter{
		name: name,
		rl:   rate.NewLimiter(rate.Limit(perSecond), maxRate),
	}
}

// Acquire blocks until a token is taken. It only fails when ctx ends first.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.rl.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter %s: %w", l.name, err)
	}
	metrics.RateLimitWait.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	return nil
}

// Do runs fn once a token has been acquired.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Burst reports the bucket capacity.
func (l *Limiter) Burst() int {
	return l.rl.Burst()
}
