package polltrigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// initialBackoff is the first backoff after a 429; it doubles per
	// consecutive 429 up to maxBackoff.
	initialBackoff = 30 * time.Second
	maxBackoff     = 10 * time.Minute
)

// BackoffError is returned while a piece is backing off after rate limiting.
type BackoffError struct {
	Piece string
	Until time.Time
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("%s is rate limited, backing off until %s", e.Piece, e.Until.Format(time.RFC3339))
}

// ErrorType implements errors.ErrorClassifier.
func (e *BackoffError) ErrorType() string { return "rate_limited" }

// IsRetryable implements errors.ErrorClassifier.
func (e *BackoffError) IsRetryable() bool { return true }

// RateLimiter provides per-piece rate limiting for item source calls.
// Each piece has a token bucket shared by all its triggers, plus an
// exponential backoff window entered when the source answers 429.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*pieceLimit
	rps    rate.Limit
	burst  int
	now    func() time.Time
}

type pieceLimit struct {
	limiter      *rate.Limiter
	backoffUntil time.Time
	backoffCount int
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// per piece with the given burst. rps <= 0 disables the token bucket.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limits: make(map[string]*pieceLimit),
		rps:    limit,
		burst:  burst,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed now and, if so, takes a token.
func (r *RateLimiter) Allow(piece string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.getOrCreateLimit(piece)
	now := r.now()
	if now.Before(limit.backoffUntil) {
		return false
	}
	return limit.limiter.AllowN(now, 1)
}

// WaitIfNeeded blocks until the piece's token bucket allows a call. While
// the piece is backing off it returns a *BackoffError immediately instead of
// holding the caller for the whole window.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context, piece string) error {
	r.mu.Lock()
	limit := r.getOrCreateLimit(piece)
	if until := limit.backoffUntil; r.now().Before(until) {
		r.mu.Unlock()
		return &BackoffError{Piece: piece, Until: until}
	}
	limiter := limit.limiter
	r.mu.Unlock()

	return limiter.Wait(ctx)
}

// RecordSuccess clears any backoff for the piece.
func (r *RateLimiter) RecordSuccess(piece string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.getOrCreateLimit(piece)
	limit.backoffCount = 0
	limit.backoffUntil = time.Time{}
}

// RecordRateLimit records a 429 response and applies exponential backoff:
// 30s, 60s, 120s, 240s, 480s, then 10m. A larger retryAfter wins.
func (r *RateLimiter) RecordRateLimit(piece string, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.getOrCreateLimit(piece)
	limit.backoffCount++

	backoff := maxBackoff
	if limit.backoffCount <= 5 {
		backoff = initialBackoff << uint(limit.backoffCount-1)
	}
	if retryAfter > backoff {
		backoff = retryAfter
	}
	limit.backoffUntil = r.now().Add(backoff)
}

// RecordError records a failed call that was not a 429. A server-provided
// retryAfter extends the backoff window without escalating it.
func (r *RateLimiter) RecordError(piece string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.getOrCreateLimit(piece)
	if until := r.now().Add(retryAfter); until.After(limit.backoffUntil) {
		limit.backoffUntil = until
	}
}

// SetLimit overrides the token bucket for one piece.
func (r *RateLimiter) SetLimit(piece string, rps float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.getOrCreateLimit(piece)
	if rps > 0 {
		limit.limiter.SetLimit(rate.Limit(rps))
	} else {
		limit.limiter.SetLimit(rate.Inf)
	}
	if burst > 0 {
		limit.limiter.SetBurst(burst)
	}
}

// GetBackoffStatus returns the backoff end time and whether the piece is
// currently backed off.
func (r *RateLimiter) GetBackoffStatus(piece string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit, exists := r.limits[piece]
	if !exists {
		return time.Time{}, false
	}
	if r.now().Before(limit.backoffUntil) {
		return limit.backoffUntil, true
	}
	return time.Time{}, false
}

// getOrCreateLimit must be called with r.mu held.
func (r *RateLimiter) getOrCreateLimit(piece string) *pieceLimit {
	limit, exists := r.limits[piece]
	if !exists {
		limit = &pieceLimit{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.limits[piece] = limit
	}
	return limit
}
