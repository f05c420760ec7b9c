// Package discovery turns search queries into new sources and queues their first crawl.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// URLValidator rejects urls the crawler must never fetch
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) (*url.URL, error)
}

type Service struct {
	config    common.DiscoveryConfig
	social    bool
	search    interfaces.SearchProvider
	validator URLValidator
	sources   interfaces.SourceStorage
	queue     interfaces.JobQueue
	events    interfaces.EventService
	logger    arbor.ILogger
}

// NewService creates the discovery service. Social profile results are kept
// only when socialEnabled is set, since nothing could crawl them otherwise.
func NewService(
	config common.DiscoveryConfig,
	socialEnabled bool,
	search interfaces.SearchProvider,
	validator URLValidator,
	sources interfaces.SourceStorage,
	queue interfaces.JobQueue,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		config:    config,
		social:    socialEnabled,
		search:    search,
		validator: validator,
		sources:   sources,
		queue:     queue,
		events:    events,
		logger:    logger,
	}
}

// RunDiscovery runs every configured query
func (s *Service) RunDiscovery(ctx context.Context) (*models.DiscoveryResult, error) {
	return s.Discover(ctx, s.config.Queries)
}

// Discover searches each query and creates a source for every result whose
// host (or social handle) is not yet known, queueing a crawl for each new
// source. A failing query is logged and skipped; the run fails only when
// every query failed.
func (s *Service) Discover(ctx context.Context, queries []string) (*models.DiscoveryResult, error) {
	startTime := time.Now()
	result := &models.DiscoveryResult{}
	if len(queries) == 0 {
		s.logger.Warn().Msg("No discovery queries configured")
		return result, nil
	}

	var lastErr error
	failed := 0
	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		results, err := s.search.Search(ctx, query, s.config.MaxResultsPerQuery)
		if err != nil {
			failed++
			lastErr = err
			queriesTotal.WithLabelValues("error").Inc()
			s.logger.Warn().Err(err).Str("query", query).Msg("Discovery query failed")
			continue
		}
		result.QueriesExecuted++
		queriesTotal.WithLabelValues("ok").Inc()

		for _, r := range results {
			source, err := s.admit(ctx, query, r)
			if err != nil {
				return result, err
			}
			if source == nil {
				continue
			}
			result.WebsitesCreated++
			result.SourceIDs = append(result.SourceIDs, source.ID)
		}
	}

	if failed == len(queries) {
		return result, fmt.Errorf("all %d discovery queries failed: %w", failed, lastErr)
	}

	s.logger.Info().
		Int("queries", result.QueriesExecuted).
		Int("created", result.WebsitesCreated).
		Dur("duration", time.Since(startTime)).
		Msg("Discovery completed")
	return result, nil
}

// admit validates one search result and creates its source. It returns nil
// when the result was rejected or the source already existed.
func (s *Service) admit(ctx context.Context, query string, r interfaces.SearchResult) (*models.Source, error) {
	if _, err := s.validator.Validate(ctx, r.URL); err != nil {
		resultsTotal.WithLabelValues("rejected").Inc()
		s.logger.Debug().Err(err).Str("url", r.URL).Msg("Search result rejected")
		return nil, nil
	}

	candidate, err := models.NewSourceFromURL(common.NewSourceID(), r.URL, query)
	if err != nil {
		resultsTotal.WithLabelValues("rejected").Inc()
		return nil, nil
	}
	if candidate.Kind == models.SourceKindSocial && !s.social {
		resultsTotal.WithLabelValues("social_disabled").Inc()
		return nil, nil
	}
	if r.Title != "" && candidate.Kind == models.SourceKindWebsite {
		candidate.Name = r.Title
	}

	source, created, err := s.sources.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("create source for %s: %w", r.URL, err)
	}
	if !created {
		resultsTotal.WithLabelValues("known").Inc()
		return nil, nil
	}
	resultsTotal.WithLabelValues("created").Inc()

	job, err := s.queue.Enqueue(ctx, models.JobSpec{
		Kind:     models.JobKindCrawlWebsite,
		SourceID: source.ID,
		Payload:  models.CrawlPayload{SourceID: source.ID},
	})
	if err != nil {
		// Roll back so the next run admits the host again
		if delErr := s.sources.DeleteSource(ctx, source.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("source_id", source.ID).Msg("Failed to remove source after enqueue failure")
		}
		return nil, fmt.Errorf("enqueue crawl for %s: %w", source.ID, err)
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, models.SourceDiscovered{SourceID: source.ID, URL: source.URL, Query: query}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish source discovered")
		}
	}
	s.logger.Info().
		Str("source_id", source.ID).
		Str("kind", string(source.Kind)).
		Str("url", source.URL).
		Str("job_id", job.ID).
		Msg("Source discovered")
	return source, nil
}
