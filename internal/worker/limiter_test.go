package worker

import (
	"context"
	"testing"
	"time"
)

// blocked reports whether a request for key would have to wait
func blocked(l *Limiter, key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return l.Wait(ctx, key) != nil
}

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1) // 100 rps, burst 1
	ctx := context.Background()

	if err := limiter.Wait(ctx, "geocode"); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	// Different key should also work
	if err := limiter.Wait(ctx, "validate"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	// 1 rps, burst 1
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "geocode"); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// Burst of 1 is consumed
	if !blocked(limiter, "geocode") {
		t.Errorf("expected second request to wait (exhausted tokens)")
	}

	// Other keys have their own bucket
	if blocked(limiter, "validate") {
		t.Errorf("expected other key to pass")
	}
}

func TestLimiter_SetKeyRate(t *testing.T) {
	limiter := NewLimiter(10, 10) // fast default

	// Nominatim's usage policy allows one request per second
	limiter.SetKeyRate("nominatim", 0.1, 1)

	if blocked(limiter, "nominatim") {
		t.Errorf("first request should pass")
	}
	if !blocked(limiter, "nominatim") {
		t.Errorf("second request should fail")
	}
	if blocked(limiter, "google") {
		t.Errorf("other key should pass")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if blocked(limiter, "geocode") {
			t.Fatalf("request %d denied by unlimited limiter", i)
		}
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	if err := limiter.Wait(context.Background(), "slow"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "slow"); err == nil {
		t.Error("expected error waiting past the deadline")
	}
}
