// Package ratelimit throttles outbound API requests made by the history
// crawler. One limiter is shared by every crawl task so concurrent scopes
// stay inside the same budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter controls the frequency of REST calls to the chat platform.
type Limiter struct {
	// main limiter: steady request rate
	limiter *rate.Limiter

	// additional pause after a server-issued retry-after
	retryUntil time.Time
	mu         sync.Mutex
}

// New creates a limiter.
// rps - requests per second (history crawling is safe around 1-5)
// burst - allowed burst
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Default returns a limiter with conservative settings for history
// crawling alongside a live gateway session.
func Default() *Limiter {
	return New(2.0, 1)
}

// Wait blocks until the next request is allowed.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	waitUntil := l.retryUntil
	l.mu.Unlock()

	// a server-issued pause takes precedence over the steady rate
	if time.Now().Before(waitUntil) {
		select {
		case <-time.After(time.Until(waitUntil)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return l.limiter.Wait(ctx)
}

// SetRetryAfter sets a pause after the server returned HTTP 429.
func (l *Limiter) SetRetryAfter(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(l.retryUntil) {
		l.retryUntil = until
	}
}
