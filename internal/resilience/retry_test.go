package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_DelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := RetryPolicy{
		InitialDelay:  time.Second,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 10.0,
	}

	assert.Equal(t, 3*time.Second, p.Delay(5))
}

func TestRetryPolicy_JitterStaysInBand(t *testing.T) {
	p := DefaultRetryPolicy()

	for attempt := 0; attempt < 4; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			base := 200 * time.Millisecond << attempt
			if base > p.MaxDelay {
				base = p.MaxDelay
			}
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
		}
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
