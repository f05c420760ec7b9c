package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PageStorage persists cached pages keyed by url
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{db: db, logger: logger}
}

func (s *PageStorage) GetPage(ctx context.Context, url string) (*models.CachedPage, error) {
	var page models.CachedPage
	if err := s.db.Store().Get(url, &page); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("page %s: %w", url, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &page, nil
}

func (s *PageStorage) GetPages(ctx context.Context, urls []string) ([]models.CachedPage, error) {
	pages := make([]models.CachedPage, 0, len(urls))
	for _, url := range urls {
		page, err := s.GetPage(ctx, url)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				s.logger.Debug().Str("url", url).Msg("Cached page missing, skipping")
				continue
			}
			return nil, err
		}
		pages = append(pages, *page)
	}
	return pages, nil
}

func (s *PageStorage) SavePage(ctx context.Context, page *models.CachedPage) error {
	if page.URL == "" {
		return fmt.Errorf("page url is required")
	}
	if err := s.db.Store().Upsert(page.URL, *page); err != nil {
		return fmt.Errorf("failed to save page: %w", err)
	}
	return nil
}

func (s *PageStorage) FindByContentHash(ctx context.Context, contentHash string) ([]models.CachedPage, error) {
	var pages []models.CachedPage
	if err := s.db.Store().Find(&pages, badgerhold.Where("ContentHash").Eq(contentHash)); err != nil {
		return nil, fmt.Errorf("failed to find pages by hash: %w", err)
	}
	return pages, nil
}

func (s *PageStorage) ListBySource(ctx context.Context, sourceID string) ([]models.CachedPage, error) {
	var pages []models.CachedPage
	if err := s.db.Store().Find(&pages, badgerhold.Where("SourceID").Eq(sourceID).SortBy("URL")); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

func (s *PageStorage) CountPages(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.CachedPage{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return int(count), nil
}
