package resilience

import (
	"sync"
	"time"
)

// RateLimiterStats exposes limiter counters for monitoring.
type RateLimiterStats struct {
	Admitted int64   `json:"admitted"`
	Denied   int64   `json:"denied"`
	Tokens   float64 `json:"tokens"`
}

// RateLimiter is a token-bucket limiter admitting at most maxCalls per
// interval, with a burst of maxCalls. Safe for concurrent use.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	stats      RateLimiterStats
	now        func() time.Time
}

// NewRateLimiter creates a limiter for maxCalls per interval.
func NewRateLimiter(maxCalls int, interval time.Duration) *RateLimiter {
	now := time.Now
	return &RateLimiter{
		tokens:     float64(maxCalls),
		maxTokens:  float64(maxCalls),
		refillRate: float64(maxCalls) / interval.Seconds(),
		lastRefill: now(),
		now:        now,
	}
}

// Admit consumes a token if available. It never blocks; a denied call is
// the caller's signal to take the Unavailable path.
func (r *RateLimiter) Admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		r.stats.Admitted++
		return true
	}
	r.stats.Denied++
	return false
}

// Stats returns a snapshot of the limiter counters.
func (r *RateLimiter) Stats() RateLimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Tokens = r.tokens
	return s
}

// refill adds tokens for elapsed time. Caller must hold the mutex.
func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}
