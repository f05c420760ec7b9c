package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle spaces requests to one backend and pauses them all after the
// backend reports a rate limit with a suggested delay
type throttle struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	until   time.Time
}

// newThrottle allows one request per interval; zero disables spacing
func newThrottle(interval time.Duration) *throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until a request may be sent
func (t *throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	pause := time.Until(t.until)
	t.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return t.limiter.Wait(ctx)
}

// Pause holds every request for d. A shorter pause never cuts a longer one.
func (t *throttle) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if until := time.Now().Add(d); until.After(t.until) {
		t.until = until
	}
}

// observe pauses the throttle when err carries a rate limit delay
func (t *throttle) observe(err error) {
	if err != nil && IsRateLimitError(err) {
		t.Pause(ExtractRetryDelay(err))
	}
}
