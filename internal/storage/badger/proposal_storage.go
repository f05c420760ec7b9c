package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ProposalStorage persists sync proposals and their batches
type ProposalStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	locks  *common.KeyedLock
}

// NewProposalStorage creates a new ProposalStorage instance
func NewProposalStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProposalStorage {
	return &ProposalStorage{db: db, logger: logger, locks: common.NewKeyedLock()}
}

func (s *ProposalStorage) SaveProposal(ctx context.Context, proposal *models.SyncProposal) error {
	if proposal.ID == "" {
		return fmt.Errorf("proposal ID is required")
	}
	if err := s.db.Store().Upsert(proposal.ID, *proposal); err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	return nil
}

func (s *ProposalStorage) GetProposal(ctx context.Context, id string) (*models.SyncProposal, error) {
	var proposal models.SyncProposal
	if err := s.db.Store().Get(id, &proposal); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("proposal %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return &proposal, nil
}

func (s *ProposalStorage) DecideProposal(ctx context.Context, id string, fn func(proposal *models.SyncProposal) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	proposal, err := s.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if proposal.Status != models.ProposalPending {
		return fmt.Errorf("proposal %s is %s: %w", id, proposal.Status, models.ErrProposalNotPending)
	}
	if err := fn(proposal); err != nil {
		return err
	}
	return s.SaveProposal(ctx, proposal)
}

func (s *ProposalStorage) ListProposals(ctx context.Context, status models.ProposalStatus) ([]models.SyncProposal, error) {
	var proposals []models.SyncProposal
	query := badgerhold.Where("ID").Ne("")
	if status != "" {
		query = badgerhold.Where("Status").Eq(status)
	}
	if err := s.db.Store().Find(&proposals, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	return proposals, nil
}

func (s *ProposalStorage) ListByBatch(ctx context.Context, batchID string) ([]models.SyncProposal, error) {
	var proposals []models.SyncProposal
	if err := s.db.Store().Find(&proposals, badgerhold.Where("BatchID").Eq(batchID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list batch proposals: %w", err)
	}
	return proposals, nil
}

func (s *ProposalStorage) SaveBatch(ctx context.Context, batch *models.SyncBatch) error {
	if batch.ID == "" {
		return fmt.Errorf("batch ID is required")
	}
	if err := s.db.Store().Upsert(batch.ID, *batch); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// StageBatch stores batch and its proposals in one transaction, so a batch is
// either fully staged or absent. An existing batch id fails with
// models.ErrBatchExists and leaves the store untouched.
func (s *ProposalStorage) StageBatch(ctx context.Context, batch *models.SyncBatch, proposals []models.SyncProposal) error {
	if batch.ID == "" {
		return fmt.Errorf("batch ID is required")
	}
	store := s.db.Store()
	return s.db.DB().Update(func(txn *badger.Txn) error {
		var existing models.SyncBatch
		err := store.TxGet(txn, batch.ID, &existing)
		if err == nil {
			return fmt.Errorf("batch %s: %w", batch.ID, models.ErrBatchExists)
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to check batch: %w", err)
		}

		for i := range proposals {
			if proposals[i].ID == "" {
				return fmt.Errorf("proposal ID is required")
			}
			if err := store.TxUpsert(txn, proposals[i].ID, proposals[i]); err != nil {
				return fmt.Errorf("failed to stage proposal: %w", err)
			}
		}
		if err := store.TxInsert(txn, batch.ID, *batch); err != nil {
			return fmt.Errorf("failed to stage batch: %w", err)
		}
		return nil
	})
}

func (s *ProposalStorage) GetBatch(ctx context.Context, id string) (*models.SyncBatch, error) {
	var batch models.SyncBatch
	if err := s.db.Store().Get(id, &batch); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}
