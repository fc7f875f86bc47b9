package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines bounded exponential backoff for transient failures.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy suits short outbound API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Delay returns the backoff before retry attempt n (0-based), with up to
// 25% jitter when enabled.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.BackoffFactor
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterEnabled {
		jitterFactor := (rand.Float64() - 0.5) * 0.5
		d += d * jitterFactor
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is done, reporting which.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
