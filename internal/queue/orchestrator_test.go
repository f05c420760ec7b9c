package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/storage/badger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testQueueConfig() Config {
	return Config{
		PollInterval:      10 * time.Millisecond,
		Concurrency:       2,
		MaxRetries:        2,
		BaseBackoff:       time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
		StaleTimeout:      time.Minute,
	}
}

func newTestOrchestrator(t *testing.T, config Config) (*Orchestrator, interfaces.JobStorage, *clock) {
	t.Helper()
	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	c := &clock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	o := NewOrchestrator(config, manager.JobStorage(), nil, arbor.NewLogger())
	o.now = c.Now
	return o, manager.JobStorage(), c
}

func TestConfigBackoff(t *testing.T) {
	config := Config{BaseBackoff: time.Second, BackoffMultiplier: 2, MaxBackoff: 10 * time.Second}

	assert.Equal(t, time.Second, config.Backoff(0))
	assert.Equal(t, time.Second, config.Backoff(1))
	assert.Equal(t, 2*time.Second, config.Backoff(2))
	assert.Equal(t, 4*time.Second, config.Backoff(3))
	assert.Equal(t, 8*time.Second, config.Backoff(4))
	assert.Equal(t, 10*time.Second, config.Backoff(5))
	assert.Equal(t, 10*time.Second, config.Backoff(50))
}

func TestNewConfig(t *testing.T) {
	config := NewConfig(common.QueueConfig{
		PollInterval:      "250ms",
		Concurrency:       0,
		MaxRetries:        3,
		BaseBackoff:       "bogus",
		BackoffMultiplier: 0,
		StaleTimeout:      "2m",
	})

	assert.Equal(t, 250*time.Millisecond, config.PollInterval)
	assert.Equal(t, NewDefaultConfig().Concurrency, config.Concurrency)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 30*time.Second, config.BaseBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
	assert.Equal(t, 2*time.Minute, config.StaleTimeout)
}

func TestOrchestrator_TransientFailureBacksOffThenFails(t *testing.T) {
	config := testQueueConfig()
	config.MaxRetries = 3
	o, _, c := newTestOrchestrator(t, config)
	ctx := context.Background()
	calls := 0
	o.RegisterHandler(models.JobKindCrawlWebsite, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		calls++
		return nil, &models.StatusError{StatusCode: 503, Err: errors.New("unavailable")}
	})

	job, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_1", Payload: models.CrawlPayload{SourceID: "src_1"}})
	require.NoError(t, err)

	var lastRunAt time.Time
	var lastDelay time.Duration
	for retry := 1; retry <= 2; retry++ {
		ran, err := o.RunOnce(ctx, "w")
		require.NoError(t, err)
		require.True(t, ran)

		view, err := o.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, view.Status)
		assert.Equal(t, retry, view.RetryCount)
		assert.Equal(t, "backend status 503: unavailable", view.Error)

		delay := view.NextRunAt.Sub(c.Now())
		assert.Greater(t, delay, lastDelay, "backoff grows with each retry")
		assert.True(t, view.NextRunAt.After(lastRunAt))
		lastDelay, lastRunAt = delay, view.NextRunAt

		// not eligible before its next run time
		ran, err = o.RunOnce(ctx, "w")
		require.NoError(t, err)
		assert.False(t, ran)

		c.Set(view.NextRunAt)
	}

	ran, err := o.RunOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)

	view, err := o.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, view.Status)
	assert.Equal(t, 2, view.RetryCount)
	assert.Equal(t, "backend status 503: unavailable", view.Error)
	assert.Equal(t, 3, calls, "the third transient failure exhausts a budget of three")
}

func TestOrchestrator_FailsWhenFailuresReachMaxRetries(t *testing.T) {
	o, _, c := newTestOrchestrator(t, testQueueConfig())
	ctx := context.Background()
	calls := 0
	o.RegisterHandler(models.JobKindCrawlWebsite, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		calls++
		return nil, &models.StatusError{StatusCode: 503, Err: errors.New("unavailable")}
	})

	job, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_1", Payload: models.CrawlPayload{SourceID: "src_1"}})
	require.NoError(t, err)

	ran, err := o.RunOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)
	view, err := o.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, view.Status)
	assert.Equal(t, 1, view.RetryCount)

	c.Set(view.NextRunAt)
	ran, err = o.RunOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)
	view, err = o.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, view.Status)
	assert.Equal(t, 2, calls)
}

func TestOrchestrator_ReclaimedJobKeepsNewOwner(t *testing.T) {
	o, jobs, c := newTestOrchestrator(t, testQueueConfig())
	ctx := context.Background()
	o.RegisterHandler(models.JobKindCrawlWebsite, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		// the sweep gives the job to another worker while this handler runs
		_, err := jobs.ReclaimStale(ctx, c.Now().Add(time.Hour))
		require.NoError(t, err)
		_, err = jobs.Claim(ctx, "other", time.Now().Add(time.Second))
		require.NoError(t, err)
		return nil, nil
	})

	job, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_1", Payload: models.CrawlPayload{SourceID: "src_1"}})
	require.NoError(t, err)

	ran, err := o.RunOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)

	view, err := o.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, view.Status)
}

func TestOrchestrator_PermanentFailureIsNotRetried(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testQueueConfig())
	ctx := context.Background()
	o.RegisterHandler(models.JobKindCrawlWebsite, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		return nil, models.NewBlockedError("https://example.org/", "disallowed by robots.txt")
	})

	job, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_1", Payload: models.CrawlPayload{SourceID: "src_1"}})
	require.NoError(t, err)

	_, err = o.Drain(ctx, "w")
	require.NoError(t, err)

	view, err := o.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, view.Status)
	assert.Zero(t, view.RetryCount)
	assert.Contains(t, view.Error, "disallowed by robots.txt")
}

func TestOrchestrator_HandlerPanicFailsJob(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testQueueConfig())
	ctx := context.Background()
	o.RegisterHandler(models.JobKindSyncPosts, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		panic("boom")
	})

	job, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindSyncPosts, SourceID: "src_1", Payload: models.SyncPayload{SourceID: "src_1"}})
	require.NoError(t, err)
	_, err = o.Drain(ctx, "w")
	require.NoError(t, err)

	view, err := o.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, view.Status)
	assert.Contains(t, view.Error, "boom")
}

func TestOrchestrator_SameSourceIsSerialized(t *testing.T) {
	o, jobs, c := newTestOrchestrator(t, testQueueConfig())
	ctx := context.Background()
	o.RegisterHandler(models.JobKindCrawlWebsite, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		return &Outcome{}, nil
	})
	tick := func() { c.Set(c.Now().Add(time.Millisecond)) }

	first, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_1", Payload: models.CrawlPayload{SourceID: "src_1"}})
	require.NoError(t, err)
	tick()
	_, err = o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_1", Payload: models.CrawlPayload{SourceID: "src_1"}})
	require.NoError(t, err)
	tick()
	other, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_2", Payload: models.CrawlPayload{SourceID: "src_2"}})
	require.NoError(t, err)

	// another process holds the first job
	claimed, err := jobs.Claim(ctx, "elsewhere", o.now())
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)

	ran, err := o.RunOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)
	view, err := o.GetJob(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, view.Status, "a different source is not blocked")

	ran, err = o.RunOnce(ctx, "w")
	require.NoError(t, err)
	assert.False(t, ran, "the second src_1 crawl waits for the first")

	require.NoError(t, jobs.Complete(ctx, first.ID, "elsewhere", nil, nil))
	ran, err = o.RunOnce(ctx, "w")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestOrchestrator_SweepStaleReclaimsWithoutRetry(t *testing.T) {
	o, jobs, c := newTestOrchestrator(t, testQueueConfig())
	ctx := context.Background()

	job, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: "src_1", Payload: models.CrawlPayload{SourceID: "src_1"}})
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, "dead-worker", c.Now())
	require.NoError(t, err)

	n, err := o.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "heartbeat is fresh")

	c.Set(c.Now().Add(2 * time.Minute))
	n, err = o.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	view, err := o.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, view.Status)
	assert.Zero(t, view.RetryCount)
}

func TestOrchestrator_UnknownKindRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, testQueueConfig())
	_, err := o.Enqueue(context.Background(), models.JobSpec{Kind: "bogus"})
	assert.Error(t, err)

	_, err = o.GetJob(context.Background(), "job_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWorkerPool_RunsQueuedJobs(t *testing.T) {
	config := testQueueConfig()
	o, _, _ := newTestOrchestrator(t, config)
	o.now = time.Now
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]bool{}
	o.RegisterHandler(models.JobKindCrawlWebsite, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		mu.Lock()
		seen[job.SourceID] = true
		mu.Unlock()
		return &Outcome{}, nil
	})

	for _, id := range []string{"src_1", "src_2", "src_3"} {
		_, err := o.Enqueue(ctx, models.JobSpec{Kind: models.JobKindCrawlWebsite, SourceID: id, Payload: models.CrawlPayload{SourceID: id}})
		require.NoError(t, err)
	}

	pool := NewWorkerPool(o, "test", arbor.NewLogger())
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		completed, err := o.ListJobs(ctx, models.JobStatusCompleted, 0)
		return err == nil && len(completed) == 3
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
}
