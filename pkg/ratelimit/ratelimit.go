// Package ratelimit implements a sliding-window request counter keyed by an
// arbitrary identifier (client address, account id).
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitedError rejects a request, carrying a machine-readable retry hint.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, try again in %d seconds", e.RetryAfterSeconds)
}

// Limiter tracks request timestamps per identifier. Check-and-record happens
// under one mutex section so concurrent callers can never over-admit.
type Limiter struct {
	mu  sync.Mutex
	now func() time.Time
	log map[string][]time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{now: time.Now, log: make(map[string][]time.Time)}
}

// Allow admits the request and records it, or returns *RateLimitedError with
// the seconds until the oldest retained request leaves the window.
func (l *Limiter) Allow(identifier string, maxRequests int, window time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.log[identifier][:0]
	for _, ts := range l.log[identifier] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= maxRequests {
		retryAfter := int(kept[0].Add(window).Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		l.log[identifier] = kept
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}

	l.log[identifier] = append(kept, now)
	return nil
}
