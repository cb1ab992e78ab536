// Package ratelimit throttles inbound messages per connection with a token
// bucket that holds Burst tokens and refills Burst tokens every interval.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-connection token bucket.
type Limiter struct {
	bucket *rate.Limiter
}

// New creates a full bucket of capacity tokens refilled at capacity per
// interval. Non-positive arguments fall back to one token per second.
func New(capacity int, interval time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	perSecond := rate.Limit(float64(capacity) / interval.Seconds())
	return &Limiter{bucket: rate.NewLimiter(perSecond, capacity)}
}

// Allow takes one token when available.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// AllowAt is Allow evaluated at t.
func (l *Limiter) AllowAt(t time.Time) bool {
	return l.bucket.AllowN(t, 1)
}
