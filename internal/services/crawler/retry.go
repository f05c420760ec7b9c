package crawler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

// RetryPolicy retries a single fetch with exponential backoff and jitter.
// It covers short network blips inside one fetch; longer outages surface as
// Network failures and are retried by the job layer.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy creates a policy with maxAttempts attempts in total
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Second,
		MaxBackoff:        15 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// isRetryableStatus reports whether an HTTP status is worth another attempt
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// CalculateBackoff returns the delay before attempt+1, with ±25% jitter
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter
	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}
	return time.Duration(backoff)
}

// ExecuteWithRetry runs fn until it succeeds with a non-retryable status,
// fails with a non-retryable error or the attempts run out
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, logger arbor.ILogger, fn func() (int, error)) (int, error) {
	var (
		lastErr    error
		statusCode int
	)

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		statusCode, lastErr = fn()

		if lastErr == nil && !isRetryableStatus(statusCode) {
			return statusCode, nil
		}
		if lastErr != nil && !isRetryableError(lastErr) {
			logger.Debug().
				Int("attempt", attempt+1).
				Int("status_code", statusCode).
				Err(lastErr).
				Msg("Non-retryable error, failing immediately")
			return statusCode, lastErr
		}

		if attempt < p.MaxAttempts-1 {
			backoff := p.CalculateBackoff(attempt)
			logger.Debug().
				Int("attempt", attempt+1).
				Int("status_code", statusCode).
				Err(lastErr).
				Dur("backoff", backoff).
				Msg("Retrying after backoff")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return statusCode, ctx.Err()
			case <-timer.C:
			}
		}
	}

	logger.Warn().
		Int("max_attempts", p.MaxAttempts).
		Int("status_code", statusCode).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return statusCode, lastErr
}

// isRetryableError checks for timeouts and connection errors. Policy
// failures (blocked, invalid URL) are never retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch models.FetchFailureKind(err) {
	case models.FailureBlocked, models.FailureInvalidURL:
		return false
	case models.FailureNetwork:
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
