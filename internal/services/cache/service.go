// Package cache stores fetched pages under a hash of their normalized text and
// carries summaries over between pages with identical content.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// Service is the content-addressed page cache
type Service struct {
	pages      interfaces.PageStorage
	events     interfaces.EventService
	promptHash string
	minLength  int
	locks      *common.KeyedLock
	logger     arbor.ILogger
}

var _ interfaces.ContentCache = (*Service)(nil)

// NewService creates the cache. promptHash is the summarizer's current hash;
// stored summaries carrying any other hash are never reused.
func NewService(
	config common.CacheConfig,
	pages interfaces.PageStorage,
	events interfaces.EventService,
	promptHash string,
	logger arbor.ILogger,
) *Service {
	return &Service{
		pages:      pages,
		events:     events,
		promptHash: promptHash,
		minLength:  config.MinSummarizeLength,
		locks:      common.NewKeyedLock(),
		logger:     logger,
	}
}

// GetOrFetch fetches url through ingestor and stores the result. When the
// stored page, or another page with the same content hash, already holds a
// summary for the current prompt hash, it is kept or copied so no AI call is
// needed downstream.
func (s *Service) GetOrFetch(ctx context.Context, url string, sourceID string, ingestor interfaces.Ingestor) (*models.CachedPage, error) {
	raw, err := ingestor.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	normalized := Normalize(raw.Content)
	hash := ContentHash(normalized)

	unlock := s.locks.Lock(url)
	defer unlock()

	page, err := s.pages.GetPage(ctx, url)
	isNew := false
	switch {
	case errors.Is(err, models.ErrNotFound):
		isNew = true
		page = &models.CachedPage{URL: url, CreatedAt: time.Now()}
	case err != nil:
		return nil, fmt.Errorf("load cached page %s: %w", url, err)
	}

	changed := isNew || page.ContentHash != hash

	page.SourceID = sourceID
	page.Title = raw.Title
	page.Content = raw.Content
	page.ContentHash = hash
	page.NormalizedLength = NormalizedLength(normalized)
	page.WorthSummarizing = page.NormalizedLength >= s.minLength
	page.LastFetchedAt = raw.FetchedAt
	if page.LastFetchedAt.IsZero() {
		page.LastFetchedAt = time.Now()
	}

	reused := false
	if page.WorthSummarizing && !page.HasValidSummary(s.promptHash) {
		reused, err = s.reuseSibling(ctx, page)
		if err != nil {
			return nil, err
		}
	}

	if err := s.pages.SavePage(ctx, page); err != nil {
		return nil, fmt.Errorf("save cached page %s: %w", url, err)
	}

	outcome := "unchanged"
	switch {
	case isNew:
		outcome = "new"
	case changed:
		outcome = "changed"
	}
	cacheLookups.WithLabelValues(outcome).Inc()

	s.logger.Debug().
		Str("url", url).
		Str("content_hash", hash).
		Int("normalized_length", page.NormalizedLength).
		Bool("changed", changed).
		Bool("summary_reused", reused).
		Msg("Page cached")

	s.publish(ctx, models.PageCached{URL: url, SourceID: sourceID, ContentHash: hash, Changed: changed})
	if reused {
		summariesReused.Inc()
		s.publish(ctx, models.PageSummarized{URL: url, ContentHash: hash, Reused: true})
	}

	return page, nil
}

// reuseSibling copies a valid summary from another page with the same content
func (s *Service) reuseSibling(ctx context.Context, page *models.CachedPage) (bool, error) {
	siblings, err := s.pages.FindByContentHash(ctx, page.ContentHash)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("find pages with hash %s: %w", page.ContentHash, err)
	}
	for _, sibling := range siblings {
		if sibling.URL == page.URL || !sibling.HasValidSummary(s.promptHash) {
			continue
		}
		page.Summary = sibling.Summary
		page.Embedding = sibling.Embedding
		page.PromptHash = sibling.PromptHash
		page.SummaryContentHash = page.ContentHash
		return true, nil
	}
	return false, nil
}

func (s *Service) publish(ctx context.Context, fact models.Fact) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, fact); err != nil {
		s.logger.Warn().Err(err).Str("fact_type", fact.FactType()).Msg("Failed to publish fact")
	}
}
