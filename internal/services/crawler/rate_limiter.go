package crawler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"golang.org/x/sync/semaphore"
)

// RateLimiter bounds fetches in flight across the process and spaces
// requests to the same host by at least the host delay. Excess requests wait
// their turn; nothing is rejected.
type RateLimiter struct {
	limiters     map[string]*domainLimiter
	mu           sync.Mutex
	defaultDelay time.Duration
	inFlight     *semaphore.Weighted
}

// domainLimiter tracks the next free request slot of a single host
type domainLimiter struct {
	mu       sync.Mutex
	nextSlot time.Time
	delay    time.Duration
}

// NewRateLimiter creates a limiter with maxInFlight concurrent fetches and
// defaultDelay between requests to one host
func NewRateLimiter(maxInFlight int, defaultDelay time.Duration) *RateLimiter {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &RateLimiter{
		limiters:     make(map[string]*domainLimiter),
		defaultDelay: defaultDelay,
		inFlight:     semaphore.NewWeighted(int64(maxInFlight)),
	}
}

func (rl *RateLimiter) limiter(domain string) *domainLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[domain]
	if !exists {
		limiter = &domainLimiter{delay: rl.defaultDelay}
		rl.limiters[domain] = limiter
	}
	return limiter
}

// Acquire waits for a free in-flight slot and then for the host slot of
// rawURL. The host slot is reserved only once the in-flight slot is held, so
// callers queued behind a full limiter still start a host delay apart. The
// returned release must be called when the fetch finishes.
func (rl *RateLimiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	if err := rl.inFlight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	release := func() { rl.inFlight.Release(1) }

	domain := extractDomain(rawURL)
	if domain == "" {
		return release, nil
	}
	limiter := rl.limiter(domain)

	limiter.mu.Lock()
	now := time.Now()
	slot := limiter.nextSlot
	if slot.Before(now) {
		slot = now
	}
	limiter.nextSlot = slot.Add(limiter.delay)
	limiter.mu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			release()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return release, nil
}

// SetDomainDelay raises the delay of a host, e.g. to its robots.txt Crawl-delay.
// A delay below the current one is ignored.
func (rl *RateLimiter) SetDomainDelay(domain string, delay time.Duration) {
	limiter := rl.limiter(domain)
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if delay > limiter.delay {
		limiter.delay = delay
	}
}

// GetDomainDelay returns the current delay for a host
func (rl *RateLimiter) GetDomainDelay(domain string) time.Duration {
	rl.mu.Lock()
	limiter, exists := rl.limiters[domain]
	rl.mu.Unlock()
	if !exists {
		return rl.defaultDelay
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return limiter.delay
}

// extractDomain parses the host from a URL
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// RateLimitedIngestor wraps an Ingestor with a RateLimiter
type RateLimitedIngestor struct {
	inner   interfaces.Ingestor
	limiter *RateLimiter
}

// NewRateLimitedIngestor creates the wrapper. The limiter may be shared by several ingestors.
func NewRateLimitedIngestor(inner interfaces.Ingestor, limiter *RateLimiter) *RateLimitedIngestor {
	return &RateLimitedIngestor{inner: inner, limiter: limiter}
}

func (r *RateLimitedIngestor) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	release, err := r.limiter.Acquire(ctx, rawURL)
	if err != nil {
		return nil, models.NewNetworkError(rawURL, 0, err)
	}
	defer release()
	return r.inner.Fetch(ctx, rawURL)
}
