package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

func TestPublishSyncDeliversOnlyMatchingType(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var cached, decided int32
	require.NoError(t, svc.Subscribe(models.FactPageCached, func(ctx context.Context, fact models.Fact) error {
		atomic.AddInt32(&cached, 1)
		return nil
	}))
	require.NoError(t, svc.Subscribe(models.FactProposalDecided, func(ctx context.Context, fact models.Fact) error {
		atomic.AddInt32(&decided, 1)
		return nil
	}))

	require.NoError(t, svc.PublishSync(context.Background(), models.PageCached{URL: "https://a.test/"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cached))
	assert.Equal(t, int32(0), atomic.LoadInt32(&decided))
}

func TestPublishSyncReportsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.NoError(t, svc.Subscribe(models.FactJobCompleted, func(ctx context.Context, fact models.Fact) error {
		return errors.New("boom")
	}))

	err := svc.PublishSync(context.Background(), models.JobCompleted{JobID: "job_1"})
	assert.Error(t, err)
}

func TestPublishIsAsynchronous(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	done := make(chan models.Fact, 1)
	require.NoError(t, svc.Subscribe(models.FactSourceDiscovered, func(ctx context.Context, fact models.Fact) error {
		done <- fact
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Publish(ctx, models.SourceDiscovered{SourceID: "src_1"}))
	cancel()

	select {
	case fact := <-done:
		assert.Equal(t, "src_1", fact.(models.SourceDiscovered).SourceID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.Error(t, svc.Subscribe(models.FactPageCached, nil))
}

func TestLoggerSubscriberHandlesEveryFact(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()
	require.NoError(t, SubscribeLoggerToAllFacts(svc, arbor.NewLogger()))

	facts := []models.Fact{
		models.PageCached{URL: "u"},
		models.PageSummarized{URL: "u", Reused: true},
		models.PostsExtracted{SourceID: "s", Count: 2},
		models.ProposalStaged{ProposalID: "p", Kind: models.ProposalCreate},
		models.ProposalDecided{ProposalID: "p", Status: models.ProposalApproved},
		models.SourceDiscovered{SourceID: "s"},
		models.JobCompleted{JobID: "j", Duration: time.Second},
	}
	for _, fact := range facts {
		assert.NoError(t, svc.PublishSync(context.Background(), fact))
	}
}
