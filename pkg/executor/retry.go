package executor

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/kart-io/smsforward/pkg/model"
)

// BackoffFunc returns the delay before retry n (n starts at 1).
type BackoffFunc func(n int) time.Duration

// ExponentialBackoff grows initial by multiplier per retry, capped at max,
// with +/- jitter as a fraction of the delay.
func ExponentialBackoff(initial, max time.Duration, multiplier, jitter float64) BackoffFunc {
	return func(n int) time.Duration {
		if n <= 0 {
			return 0
		}
		delay := float64(initial) * math.Pow(multiplier, float64(n-1))
		if jitter > 0 {
			delay += delay * jitter * (rand.Float64()*2 - 1)
		}
		if delay > float64(max) {
			delay = float64(max)
		}
		if delay < 0 {
			delay = 0
		}
		return time.Duration(delay)
	}
}

// ConstantBackoff always waits d.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// RetryPolicy decides whether and when a failed send is attempted again.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultRetryPolicy allows 3 attempts with 1s, 2s exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(time.Second, 30*time.Second, 2.0, 0.1),
	}
}

// ShouldRetry reports whether another attempt follows attempt (1-based)
// failing with category.
func (p RetryPolicy) ShouldRetry(category model.FailureCategory, attempt int) bool {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	return attempt < max && category.Retryable()
}

// Delay returns the wait before retry n.
func (p RetryPolicy) Delay(n int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(n)
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
