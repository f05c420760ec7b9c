package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

func fastPolicy(attempts int) *RetryPolicy {
	p := NewRetryPolicy(attempts)
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 2 * time.Millisecond
	return p
}

func TestRetryPolicy_RetriesTransientStatus(t *testing.T) {
	calls := 0
	status, err := fastPolicy(3).ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		if calls < 3 {
			return 503, nil
		}
		return 200, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_BlockedIsNeverRetried(t *testing.T) {
	calls := 0
	_, err := fastPolicy(3).ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 0, models.NewBlockedError("https://example.org/private", "robots.txt")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, models.FailureBlocked, models.FetchFailureKind(err))
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	calls := 0
	netErr := models.NewNetworkError("https://example.org/", 0, errors.New("connection reset"))
	_, err := fastPolicy(2).ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		calls++
		return 0, netErr
	})
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_BackoffIsCapped(t *testing.T) {
	p := NewRetryPolicy(5)
	for attempt := 0; attempt < 10; attempt++ {
		assert.LessOrEqual(t, p.CalculateBackoff(attempt), p.MaxBackoff+p.MaxBackoff/4)
	}
}
