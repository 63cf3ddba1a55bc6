package sccexec

import (
	"context"
	"testing"
	"time"
)

func TestWithPingRateLimitZeroDisables(t *testing.T) {
	r := New("rccerun", "killfoli", true)
	r.WithPingRateLimit(10, 5)
	r.WithPingRateLimit(0, 5)
	if r.pingLimiter != nil {
		t.Fatal("rps <= 0 should disable the limiter")
	}
}

func TestPingRateLimiterThrottlesBurst(t *testing.T) {
	r := New("rccerun", "killfoli", true)
	r.WithPingRateLimit(1000, 1) // burst of 1: the 2nd Wait must block briefly

	ctx := context.Background()
	start := time.Now()
	if err := r.pingLimiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := r.pingLimiter.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if time.Since(start) <= 0 {
		t.Fatal("expected some measurable delay across two waits with burst 1")
	}
}
