package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SourceStorage persists crawl sources
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex // guards CreateIfAbsent
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{db: db, logger: logger}
}

func (s *SourceStorage) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var source models.Source
	if err := s.db.Store().Get(id, &source); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("source %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

func (s *SourceStorage) SaveSource(ctx context.Context, source *models.Source) error {
	if source.ID == "" {
		return fmt.Errorf("source ID is required")
	}
	if err := s.db.Store().Upsert(source.ID, *source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

func (s *SourceStorage) CreateIfAbsent(ctx context.Context, source *models.Source) (*models.Source, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []models.Source
	if err := s.db.Store().Find(&existing, badgerhold.Where("UniqueKey").Eq(source.UniqueKey).Limit(1)); err != nil {
		return nil, false, fmt.Errorf("failed to look up source: %w", err)
	}
	if len(existing) > 0 {
		return &existing[0], false, nil
	}

	if err := s.SaveSource(ctx, source); err != nil {
		return nil, false, err
	}
	return source, true, nil
}

func (s *SourceStorage) DeleteSource(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.Source{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}

func (s *SourceStorage) ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error) {
	var sources []models.Source
	query := badgerhold.Where("ID").Ne("")
	if activeOnly {
		query = query.And("Active").Eq(true)
	}
	if err := s.db.Store().Find(&sources, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}
