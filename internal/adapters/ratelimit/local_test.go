package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterPerKeyBurst(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(1, 2)
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "dr-house"); !ok {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if ok, _ := l.Allow(ctx, "dr-house"); ok {
		t.Fatalf("expected burst to be exhausted")
	}
	if ok, _ := l.Allow(ctx, "desk-1"); !ok {
		t.Fatalf("keys must not share a bucket")
	}
	now = now.Add(time.Second)
	if ok, _ := l.Allow(ctx, "dr-house"); !ok {
		t.Fatalf("expected a token after one second")
	}
}

func TestLocalLimiterCleanupDropsIdleKeys(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(5, 5)
	l.nowFn = func() time.Time { return now }
	_, _ = l.Allow(context.Background(), "a")
	now = now.Add(5 * time.Minute)
	_, _ = l.Allow(context.Background(), "b")
	now = now.Add(6 * time.Minute)

	if removed := l.Cleanup(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := l.limiters["b"]; !ok {
		t.Fatalf("recently used key was dropped")
	}
}
