package provider

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HeaderRetryAfter is the retry-after header (seconds).
const HeaderRetryAfter = "Retry-After"

// maxBackoff caps how long a Retry-After header can pause the limiter.
const maxBackoff = time.Minute

// RateLimiter throttles requests to a provider. It combines a token bucket
// with the provider's Retry-After hints.
type RateLimiter struct {
	mu     sync.Mutex
	until  time.Time     // From Retry-After
	bucket *rate.Limiter // Proactive throttling
}

// NewRateLimiter creates a limiter allowing rps requests per second.
// A non-positive rps disables proactive throttling.
func NewRateLimiter(rps float64) *RateLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimiter{bucket: rate.NewLimiter(limit, 1)}
}

// Wait blocks until it's safe to make a request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	until := r.until
	r.mu.Unlock()

	if wait := time.Until(until); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Observe records a Retry-After hint from resp, if any.
func (r *RateLimiter) Observe(resp *http.Response) {
	if resp == nil {
		return
	}
	secs, err := strconv.Atoi(resp.Header.Get(HeaderRetryAfter))
	if err != nil || secs <= 0 {
		return
	}
	until := time.Now().Add(min(time.Duration(secs)*time.Second, maxBackoff))

	r.mu.Lock()
	defer r.mu.Unlock()
	if until.After(r.until) {
		r.until = until
	}
}
