package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// First request should be immediate (within burst)
	l := New(10.0, 1)

	ctx := context.Background()
	start := time.Now()
	err := l.Wait(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate response, got %v", elapsed)
	}
}

func TestLimiter_Wait_ContextCanceled(t *testing.T) {
	// Very slow: 1 request per 10 seconds
	l := New(0.1, 1)

	// Use up the burst
	_ = l.Wait(context.Background())

	// The next request should block, but we cancel the context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	if err == nil {
		t.Error("expected error due to context timeout, got nil")
	}
}

func TestLimiter_SetRetryAfter(t *testing.T) {
	l := New(10.0, 1)

	l.SetRetryAfter(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	elapsed := time.Since(start)

	// Should timeout because the pause is 1s but the context is 200ms
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded due to retry-after pause, got %v", err)
	}

	if elapsed < 150*time.Millisecond || elapsed > 250*time.Millisecond {
		t.Errorf("expected ~200ms wait (context timeout), got %v", elapsed)
	}
}

func TestLimiter_SetRetryAfter_KeepsLatest(t *testing.T) {
	l := New(10.0, 1)

	l.SetRetryAfter(time.Second)
	// A shorter pause arriving later must not shrink the active one
	l.SetRetryAfter(10 * time.Millisecond)

	l.mu.Lock()
	until := l.retryUntil
	l.mu.Unlock()

	if time.Until(until) < 500*time.Millisecond {
		t.Errorf("expected the longer pause to stay in effect, got %v", time.Until(until))
	}
}

func TestLimiter_RateLimiting(t *testing.T) {
	// 10 requests per second = 100ms between requests
	l := New(10.0, 1)

	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Errorf("request %d: unexpected error: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	// First one is immediate (burst), then 100ms wait, then 100ms wait
	if elapsed < 150*time.Millisecond {
		t.Errorf("expected at least 150ms for 3 requests at 10 rps, got %v", elapsed)
	}
}

func TestDefault(t *testing.T) {
	l := Default()

	if l == nil {
		t.Fatal("Default returned nil")
	}

	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLimiter_RetryAfterExpires(t *testing.T) {
	l := New(10.0, 1)

	// Already expired
	l.retryUntil = time.Now().Add(-100 * time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	err := l.Wait(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate response (pause expired), got %v", elapsed)
	}
}
