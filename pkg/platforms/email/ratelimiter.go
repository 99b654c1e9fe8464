package email

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket bounding outbound SMTP submissions.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	capacity     int
	refillRate   int
	refillPeriod time.Duration
	lastRefill   time.Time
	now          func() time.Time
}

// NewRateLimiter allows rate sends per window with the given burst.
func NewRateLimiter(rate int, burst int, window time.Duration) *RateLimiter {
	if window == 0 {
		window = time.Minute
	}
	if burst == 0 {
		burst = rate
	}
	return &RateLimiter{
		tokens:       burst,
		capacity:     burst,
		refillRate:   rate,
		refillPeriod: window,
		lastRefill:   time.Now(),
		now:          time.Now,
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(rl.now())
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		t := time.NewTimer(rl.untilNextRefill())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (rl *RateLimiter) untilNextRefill() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	d := rl.lastRefill.Add(rl.refillPeriod).Sub(rl.now())
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill)
	if elapsed < rl.refillPeriod {
		return
	}

	periods := int(elapsed / rl.refillPeriod)
	rl.tokens += periods * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = rl.lastRefill.Add(time.Duration(periods) * rl.refillPeriod)
}
