package badger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func newJob(id string, kind models.JobKind, sourceID string) *models.Job {
	return &models.Job{
		ID:         id,
		Kind:       kind,
		SourceID:   sourceID,
		Payload:    json.RawMessage(`{"source_id":"` + sourceID + `"}`),
		MaxRetries: 3,
		NextRunAt:  time.Now().Add(-time.Second),
	}
}

func TestJobStorage_ClaimOrdersByNextRunAt(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	late := newJob("late", models.JobKindCrawlWebsite, "a")
	late.NextRunAt = now.Add(-time.Minute)
	early := newJob("early", models.JobKindCrawlWebsite, "b")
	early.NextRunAt = now.Add(-time.Hour)
	future := newJob("future", models.JobKindCrawlWebsite, "c")
	future.NextRunAt = now.Add(time.Hour)

	for _, j := range []*models.Job{late, early, future} {
		require.NoError(t, storage.Enqueue(ctx, j))
	}

	first, err := storage.Claim(ctx, "w1", now)
	require.NoError(t, err)
	assert.Equal(t, "early", first.ID)
	assert.Equal(t, models.JobStatusRunning, first.Status)

	second, err := storage.Claim(ctx, "w1", now)
	require.NoError(t, err)
	assert.Equal(t, "late", second.ID)

	_, err = storage.Claim(ctx, "w1", now)
	assert.ErrorIs(t, err, models.ErrNoJob, "future job must not be claimable yet")
}

func TestJobStorage_SameKindSameSourceSerialized(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, storage.Enqueue(ctx, newJob("crawl-1", models.JobKindCrawlWebsite, "site")))
	require.NoError(t, storage.Enqueue(ctx, newJob("crawl-2", models.JobKindCrawlWebsite, "site")))
	require.NoError(t, storage.Enqueue(ctx, newJob("extract-1", models.JobKindExtractPosts, "site")))

	claimed, err := storage.Claim(ctx, "w1", now)
	require.NoError(t, err)
	assert.Equal(t, "crawl-1", claimed.ID)

	// crawl-2 is blocked by crawl-1; a different kind on the same source is not
	other, err := storage.Claim(ctx, "w2", now)
	require.NoError(t, err)
	assert.Equal(t, "extract-1", other.ID)

	_, err = storage.Claim(ctx, "w3", now)
	assert.ErrorIs(t, err, models.ErrNoJob)

	require.NoError(t, storage.Complete(ctx, "crawl-1", "w1", nil, nil))

	next, err := storage.Claim(ctx, "w3", now)
	require.NoError(t, err)
	assert.Equal(t, "crawl-2", next.ID)
}

func TestJobStorage_ConcurrentClaimsNeverShareAJob(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Enqueue(ctx, newJob("crawl-1", models.JobKindCrawlWebsite, "site")))
	require.NoError(t, storage.Enqueue(ctx, newJob("crawl-2", models.JobKindCrawlWebsite, "site")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := storage.Claim(ctx, "worker", time.Now())
			if err != nil {
				return
			}
			mu.Lock()
			claimed = append(claimed, job.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, claimed, 1, "two crawl jobs for one source must never both be running")

	running, err := storage.ListJobs(ctx, models.JobStatusRunning, 0)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestJobStorage_CompleteEnqueuesSuccessor(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Enqueue(ctx, newJob("crawl", models.JobKindCrawlWebsite, "site")))
	_, err := storage.Claim(ctx, "w1", time.Now())
	require.NoError(t, err)

	successor := newJob("extract", models.JobKindExtractPosts, "site")
	require.NoError(t, storage.Complete(ctx, "crawl", "w1", json.RawMessage(`{"pages_crawled":3}`), successor))

	done, err := storage.GetJob(ctx, "crawl")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.JSONEq(t, `{"pages_crawled":3}`, string(done.Result))

	next, err := storage.GetJob(ctx, "extract")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, next.Status)
	assert.Equal(t, "crawl", next.ParentID)
}

func TestJobStorage_RetryAndFail(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, storage.Enqueue(ctx, newJob("j", models.JobKindSyncPosts, "site")))
	_, err := storage.Claim(ctx, "w1", now)
	require.NoError(t, err)

	retryAt := now.Add(30 * time.Second)
	require.NoError(t, storage.Retry(ctx, "j", "w1", "timeout", retryAt))

	job, err := storage.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "timeout", job.Error)

	_, err = storage.Claim(ctx, "w1", now)
	assert.ErrorIs(t, err, models.ErrNoJob, "job must wait for its backoff")

	_, err = storage.Claim(ctx, "w1", retryAt)
	require.NoError(t, err)
	require.NoError(t, storage.Fail(ctx, "j", "w1", "malformed structured output"))

	job, err = storage.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "malformed structured output", job.Error)

	// terminal jobs cannot transition again
	assert.Error(t, storage.Fail(ctx, "j", "w1", "again"))
}

func TestJobStorage_ReclaimStale(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)

	stuck := newJob("stuck", models.JobKindCrawlWebsite, "site")
	stuck.NextRunAt = start.Add(-time.Minute)
	alive := newJob("alive", models.JobKindCrawlWebsite, "other")
	alive.NextRunAt = start.Add(-time.Minute)
	require.NoError(t, storage.Enqueue(ctx, stuck))
	require.NoError(t, storage.Enqueue(ctx, alive))
	_, err := storage.Claim(ctx, "dead-worker", start)
	require.NoError(t, err)
	_, err = storage.Claim(ctx, "live-worker", start)
	require.NoError(t, err)
	require.NoError(t, storage.Heartbeat(ctx, "alive", time.Now()))

	reclaimed, err := storage.ReclaimStale(ctx, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck"}, reclaimed)

	job, err := storage.GetJob(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount, "reclaim does not consume retry budget")

	// the lock was released, so the job can run again
	again, err := storage.Claim(ctx, "w2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "stuck", again.ID)
}

func TestJobStorage_ReclaimedJobRejectsFormerWorker(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)

	job := newJob("crawl", models.JobKindCrawlWebsite, "site")
	job.NextRunAt = start.Add(-time.Minute)
	require.NoError(t, storage.Enqueue(ctx, job))
	_, err := storage.Claim(ctx, "slow-worker", start)
	require.NoError(t, err)

	_, err = storage.ReclaimStale(ctx, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	_, err = storage.Claim(ctx, "new-worker", time.Now())
	require.NoError(t, err)

	err = storage.Complete(ctx, "crawl", "slow-worker", nil, nil)
	assert.ErrorIs(t, err, models.ErrJobNotOwned)
	err = storage.Retry(ctx, "crawl", "slow-worker", "timeout", time.Now())
	assert.ErrorIs(t, err, models.ErrJobNotOwned)
	err = storage.Fail(ctx, "crawl", "slow-worker", "timeout")
	assert.ErrorIs(t, err, models.ErrJobNotOwned)

	current, err := storage.GetJob(ctx, "crawl")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, current.Status)
	assert.Equal(t, "new-worker", current.WorkerID)

	require.NoError(t, storage.Complete(ctx, "crawl", "new-worker", nil, nil))
}

func TestJobStorage_GetJobNotFound(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())

	_, err := storage.GetJob(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
