package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

func testProposal(id, batchID string, created time.Time) models.SyncProposal {
	return models.SyncProposal{
		ID:        id,
		BatchID:   batchID,
		Kind:      models.ProposalCreate,
		Status:    models.ProposalPending,
		Payload:   models.PostFields{Title: "Riverside Pantry"},
		SourceIDs: []string{"https://example.org/pantry"},
		CreatedAt: created,
	}
}

func TestProposalStorage_StageBatch(t *testing.T) {
	ctx := context.Background()
	storage := NewProposalStorage(newTestDB(t), arbor.NewLogger())

	now := time.Now()
	batch := &models.SyncBatch{ID: "batch_job1", JobID: "job1", ProposalIDs: []string{"p1", "p2"}, CreatedAt: now}
	proposals := []models.SyncProposal{
		testProposal("p1", batch.ID, now),
		testProposal("p2", batch.ID, now.Add(time.Millisecond)),
	}

	require.NoError(t, storage.StageBatch(ctx, batch, proposals))

	stored, err := storage.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, stored.ProposalIDs)

	members, err := storage.ListByBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "p1", members[0].ID)

	t.Run("restaging fails", func(t *testing.T) {
		again := []models.SyncProposal{testProposal("p3", batch.ID, now)}
		err := storage.StageBatch(ctx, batch, again)
		assert.ErrorIs(t, err, models.ErrBatchExists)

		_, err = storage.GetProposal(ctx, "p3")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestProposalStorage_StageBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	storage := NewProposalStorage(newTestDB(t), arbor.NewLogger())

	now := time.Now()
	batch := &models.SyncBatch{ID: "batch_job2", JobID: "job2", CreatedAt: now}
	proposals := []models.SyncProposal{
		testProposal("p1", batch.ID, now),
		testProposal("", batch.ID, now),
	}

	require.Error(t, storage.StageBatch(ctx, batch, proposals))

	_, err := storage.GetBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = storage.GetProposal(ctx, "p1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProposalStorage_DecideProposal(t *testing.T) {
	ctx := context.Background()
	storage := NewProposalStorage(newTestDB(t), arbor.NewLogger())

	proposal := testProposal("p1", "batch_job3", time.Now())
	require.NoError(t, storage.SaveProposal(ctx, &proposal))

	err := storage.DecideProposal(ctx, "p1", func(p *models.SyncProposal) error {
		decided := time.Now()
		p.Status = models.ProposalApproved
		p.DecidedAt = &decided
		return nil
	})
	require.NoError(t, err)

	stored, err := storage.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, stored.Status)
	assert.NotNil(t, stored.DecidedAt)

	called := false
	err = storage.DecideProposal(ctx, "p1", func(p *models.SyncProposal) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, models.ErrProposalNotPending)
	assert.False(t, called)

	err = storage.DecideProposal(ctx, "missing", func(p *models.SyncProposal) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProposalStorage_ListProposals(t *testing.T) {
	ctx := context.Background()
	storage := NewProposalStorage(newTestDB(t), arbor.NewLogger())

	now := time.Now()
	pending := testProposal("p1", "batch_a", now)
	rejected := testProposal("p2", "batch_a", now.Add(time.Millisecond))
	rejected.Status = models.ProposalRejected
	require.NoError(t, storage.SaveProposal(ctx, &pending))
	require.NoError(t, storage.SaveProposal(ctx, &rejected))

	all, err := storage.ListProposals(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyPending, err := storage.ListProposals(ctx, models.ProposalPending)
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, "p1", onlyPending[0].ID)
}
