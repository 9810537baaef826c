package polltrigger

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rps float64, burst int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rps, burst)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_TokenBucket(t *testing.T) {
	rl, clock := newTestLimiter(1, 2)

	if !rl.Allow("jira") || !rl.Allow("jira") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("jira") {
		t.Error("third immediate call should be blocked")
	}

	// Pieces have independent buckets
	if !rl.Allow("slack") {
		t.Error("other piece should not be affected")
	}

	clock.advance(time.Second)
	if !rl.Allow("jira") {
		t.Error("call after refill should be allowed")
	}
}

func TestRateLimiter_Backoff(t *testing.T) {
	rl, clock := newTestLimiter(0, 1)

	rl.RecordRateLimit("jira", 0)

	if rl.Allow("jira") {
		t.Error("call should be blocked during backoff")
	}
	until, backedOff := rl.GetBackoffStatus("jira")
	if !backedOff {
		t.Fatal("expected backoff")
	}
	if got := until.Sub(clock.now()); got != 30*time.Second {
		t.Errorf("first backoff = %v, want 30s", got)
	}

	// Second 429 doubles
	rl.RecordRateLimit("jira", 0)
	until, _ = rl.GetBackoffStatus("jira")
	if got := until.Sub(clock.now()); got != 60*time.Second {
		t.Errorf("second backoff = %v, want 60s", got)
	}

	clock.advance(61 * time.Second)
	if !rl.Allow("jira") {
		t.Error("call after backoff should be allowed")
	}
}

func TestRateLimiter_BackoffCapsAndHonorsRetryAfter(t *testing.T) {
	rl, clock := newTestLimiter(0, 1)

	for i := 0; i < 8; i++ {
		rl.RecordRateLimit("pd", 0)
	}
	until, _ := rl.GetBackoffStatus("pd")
	if got := until.Sub(clock.now()); got != 10*time.Minute {
		t.Errorf("backoff = %v, want cap of 10m", got)
	}

	rl.RecordSuccess("pd")
	if _, backedOff := rl.GetBackoffStatus("pd"); backedOff {
		t.Error("success should clear backoff")
	}

	rl.RecordRateLimit("pd", 5*time.Minute)
	until, _ = rl.GetBackoffStatus("pd")
	if got := until.Sub(clock.now()); got != 5*time.Minute {
		t.Errorf("backoff = %v, want Retry-After of 5m", got)
	}
}

func TestRateLimiter_RecordErrorUsesRetryAfterOnly(t *testing.T) {
	rl, _ := newTestLimiter(0, 1)

	rl.RecordError("jira", 0)
	if _, backedOff := rl.GetBackoffStatus("jira"); backedOff {
		t.Error("error without Retry-After should not back off")
	}

	rl.RecordError("jira", 20*time.Second)
	if _, backedOff := rl.GetBackoffStatus("jira"); !backedOff {
		t.Error("error with Retry-After should back off")
	}
}

func TestRateLimiter_WaitIfNeeded(t *testing.T) {
	rl, _ := newTestLimiter(0, 1)
	ctx := context.Background()

	if err := rl.WaitIfNeeded(ctx, "jira"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rl.RecordRateLimit("jira", 0)
	err := rl.WaitIfNeeded(ctx, "jira")
	var backoff *BackoffError
	if !errors.As(err, &backoff) {
		t.Fatalf("expected BackoffError, got %v", err)
	}
	if backoff.Piece != "jira" {
		t.Errorf("piece = %q, want jira", backoff.Piece)
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := rl.WaitIfNeeded(ctx, "jira"); err != nil {
		t.Fatalf("first call should not wait: %v", err)
	}
	if err := rl.WaitIfNeeded(ctx, "jira"); err == nil {
		t.Error("second call should fail once the context expires")
	}
}
