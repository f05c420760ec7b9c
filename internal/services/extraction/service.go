package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// IngestorFactory returns the ingestor one extraction run fetches pages with.
// crawler.Service.NewRunIngestor satisfies it.
type IngestorFactory func(kind models.SourceKind) (interfaces.Ingestor, error)

// Service turns cached pages into post candidates in three passes: batch
// narrative extraction, cross-batch merge and agentic enrichment
type Service struct {
	config   common.ExtractionConfig
	pages    interfaces.PageStorage
	ai       interfaces.AIService
	search   interfaces.SearchProvider
	fetchers IngestorFactory
	events   interfaces.EventService
	counter  TokenCounter
	timeout  time.Duration
	logger   arbor.ILogger
}

// NewService creates an extraction service. search and fetchers may be nil,
// in which case the matching enrichment tool reports itself unavailable.
func NewService(
	config common.ExtractionConfig,
	pages interfaces.PageStorage,
	ai interfaces.AIService,
	search interfaces.SearchProvider,
	fetchers IngestorFactory,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.EnrichMaxTurns < 1 {
		config.EnrichMaxTurns = 1
	}
	return &Service{
		config:   config,
		pages:    pages,
		ai:       ai,
		search:   search,
		fetchers: fetchers,
		events:   events,
		counter:  NewTokenCounter(config.Encoding, logger),
		timeout:  common.ParseDurationOr(config.EnrichTimeout, 2*time.Minute),
		logger:   logger,
	}
}

// ExtractPosts runs the three passes over the cached pages named in payload.
// Pages missing from the cache are skipped.
func (s *Service) ExtractPosts(ctx context.Context, payload models.ExtractPayload) (*models.ExtractResult, error) {
	startTime := time.Now()

	urls := models.UnionStrings(payload.PageURLs)
	if s.config.MaxPagesPerRun > 0 && len(urls) > s.config.MaxPagesPerRun {
		s.logger.Warn().
			Str("source_id", payload.SourceID).
			Int("pages", len(urls)).
			Int("max_pages_per_run", s.config.MaxPagesPerRun).
			Msg("Too many pages for one extraction run, extra pages dropped")
		urls = urls[:s.config.MaxPagesPerRun]
	}

	pages, err := s.pages.GetPages(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("load cached pages: %w", err)
	}
	usable := pages[:0]
	for _, page := range pages {
		if strings.TrimSpace(page.Content) != "" {
			usable = append(usable, page)
		}
	}

	result := &models.ExtractResult{SourceID: payload.SourceID, PageURLs: make([]string, 0, len(usable))}
	for _, page := range usable {
		result.PageURLs = append(result.PageURLs, page.URL)
	}
	if len(usable) == 0 {
		s.logger.Info().Str("source_id", payload.SourceID).Msg("No cached content to extract from")
		return result, nil
	}

	candidates, err := s.extractNarratives(ctx, usable)
	if err != nil {
		return nil, err
	}

	if len(candidates) > 1 {
		candidates, err = s.mergeCandidates(ctx, candidates)
		if err != nil {
			return nil, err
		}
	}

	if err := s.enrichCandidates(ctx, payload.SourceID, candidates); err != nil {
		return nil, err
	}

	result.Posts = candidates
	result.NarrativesCount = len(candidates)
	candidatesPerRun.Observe(float64(len(candidates)))

	s.publish(ctx, models.PostsExtracted{
		SourceID: payload.SourceID,
		Count:    len(candidates),
		PageURLs: result.PageURLs,
	})

	s.logger.Info().
		Str("source_id", payload.SourceID).
		Int("pages", len(usable)).
		Int("posts", len(candidates)).
		Dur("duration", time.Since(startTime)).
		Msg("Extraction completed")

	return result, nil
}

// RegeneratePosts re-runs extraction over every cached page of a source
func (s *Service) RegeneratePosts(ctx context.Context, sourceID string) (*models.ExtractResult, error) {
	pages, err := s.pages.ListBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list cached pages for source %s: %w", sourceID, err)
	}
	urls := make([]string, 0, len(pages))
	for _, page := range pages {
		urls = append(urls, page.URL)
	}
	sort.Strings(urls)

	s.logger.Info().
		Str("source_id", sourceID).
		Int("pages", len(urls)).
		Msg("Regenerating posts from cached pages")

	return s.ExtractPosts(ctx, models.ExtractPayload{SourceID: sourceID, PageURLs: urls})
}

// candidateJSON is a post as the extraction backend returns it
type candidateJSON struct {
	Title        string   `json:"title"`
	ShortSummary string   `json:"short_summary"`
	Description  string   `json:"description"`
	ContactInfo  string   `json:"contact_info"`
	Schedule     string   `json:"schedule"`
	Tags         []string `json:"tags"`
	Pages        []int    `json:"pages,omitempty"`
}

func (c candidateJSON) fields() models.PostFields {
	tags := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		tags = append(tags, strings.ToLower(strings.TrimSpace(t)))
	}
	return models.PostFields{
		Title:        strings.TrimSpace(c.Title),
		ShortSummary: strings.TrimSpace(c.ShortSummary),
		Description:  strings.TrimSpace(c.Description),
		ContactInfo:  strings.TrimSpace(c.ContactInfo),
		Schedule:     strings.TrimSpace(c.Schedule),
		Tags:         models.UnionStrings(tags),
	}
}

type narrativeOutput struct {
	Posts []candidateJSON `json:"posts"`
}

// extractNarratives is pass 1. Batches run concurrently; any batch failure
// fails the pass since nothing is persisted before the barrier.
func (s *Service) extractNarratives(ctx context.Context, pages []models.CachedPage) ([]models.ExtractedPost, error) {
	batches := buildBatches(pages, s.counter, s.config.BatchTokenBudget)
	outputs := make([][]models.ExtractedPost, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, b := range batches {
		g.Go(func() error {
			var out narrativeOutput
			err := s.ai.Extract(gctx, interfaces.ExtractRequest{
				System: narrativeSystem,
				Prompt: narrativePrompt(b),
				Schema: narrativeSchema(),
			}, &out)
			passCalls.WithLabelValues("narrative", outcomeOf(err)).Inc()
			if err != nil {
				return fmt.Errorf("extract batch %d of %d: %w", i+1, len(batches), err)
			}

			for _, c := range out.Posts {
				fields := c.fields()
				if fields.Title == "" {
					continue
				}
				outputs[i] = append(outputs[i], models.ExtractedPost{PostFields: fields, PageIDs: b.pageIDs(c.Pages)})
			}
			s.logger.Debug().
				Int("batch", i+1).
				Int("pages", len(b.Pages)).
				Int("tokens", b.Tokens).
				Int("posts", len(outputs[i])).
				Msg("Batch extracted")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var candidates []models.ExtractedPost
	for _, out := range outputs {
		candidates = append(candidates, out...)
	}
	return candidates, nil
}

type mergeGroup struct {
	Members []int         `json:"members"`
	Post    candidateJSON `json:"post"`
}

type mergeOutput struct {
	Groups []mergeGroup `json:"groups"`
}

// mergeCandidates is pass 2. A malformed response keeps the pass-1
// candidates unchanged; later dedup still catches duplicates.
func (s *Service) mergeCandidates(ctx context.Context, candidates []models.ExtractedPost) ([]models.ExtractedPost, error) {
	var out mergeOutput
	err := s.ai.Extract(ctx, interfaces.ExtractRequest{
		System: mergeSystem,
		Prompt: mergePrompt(candidates),
		Schema: mergeSchema(),
	}, &out)
	passCalls.WithLabelValues("merge", outcomeOf(err)).Inc()
	if err != nil {
		if errors.Is(err, models.ErrMalformedOutput) {
			s.logger.Warn().Err(err).Int("candidates", len(candidates)).Msg("Merge output unusable, keeping unmerged candidates")
			return candidates, nil
		}
		return nil, fmt.Errorf("merge candidates: %w", err)
	}

	merged := applyGroups(candidates, out.Groups)
	s.logger.Debug().
		Int("before", len(candidates)).
		Int("after", len(merged)).
		Msg("Candidates merged")
	return merged, nil
}

// applyGroups folds each group into one candidate placed at its lowest
// member's position. Out of range or repeated indexes are ignored and
// ungrouped candidates are kept as they are.
func applyGroups(candidates []models.ExtractedPost, groups []mergeGroup) []models.ExtractedPost {
	groupOf := make(map[int]int)
	var members [][]int
	for _, g := range groups {
		var valid []int
		for _, idx := range g.Members {
			if idx < 0 || idx >= len(candidates) {
				continue
			}
			if _, taken := groupOf[idx]; taken {
				continue
			}
			groupOf[idx] = len(members)
			valid = append(valid, idx)
		}
		members = append(members, valid)
	}

	var out []models.ExtractedPost
	emitted := make(map[int]bool)
	for i, c := range candidates {
		gi, grouped := groupOf[i]
		if !grouped {
			out = append(out, c)
			continue
		}
		if emitted[gi] {
			continue
		}
		emitted[gi] = true

		var post models.ExtractedPost
		for _, idx := range members[gi] {
			post.PostFields = models.MergeFields(post.PostFields, candidates[idx].PostFields)
			post.PageIDs = models.UnionStrings(post.PageIDs, candidates[idx].PageIDs)
		}
		overlay(&post.PostFields, groups[gi].Post.fields())
		out = append(out, post)
	}
	return out
}

// overlay replaces text fields with the model's merged values where given
func overlay(fields *models.PostFields, merged models.PostFields) {
	for _, name := range []string{models.FieldTitle, models.FieldShortSummary, models.FieldDescription, models.FieldContactInfo, models.FieldSchedule} {
		if v := merged.Field(name); v != "" {
			fields.SetField(name, v)
		}
	}
	fields.Tags = models.UnionStrings(fields.Tags, merged.Tags)
}

// enrichCandidates is pass 3, run for candidates with missing fields
func (s *Service) enrichCandidates(ctx context.Context, sourceID string, candidates []models.ExtractedPost) error {
	var pending []int
	for i := range candidates {
		if len(candidates[i].MissingFields()) > 0 {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	var fetcher interfaces.Ingestor
	if s.fetchers != nil {
		f, err := s.fetchers(models.SourceKindWebsite)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Page fetching unavailable for enrichment")
		} else {
			fetcher = f
		}
	}

	s.logger.Debug().
		Str("source_id", sourceID).
		Int("candidates", len(pending)).
		Msg("Enriching candidates with missing fields")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, idx := range pending {
		g.Go(func() error {
			return s.enrich(gctx, &candidates[idx], fetcher)
		})
	}
	return g.Wait()
}

func (s *Service) publish(ctx context.Context, fact models.Fact) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, fact); err != nil {
		s.logger.Warn().Err(err).Str("fact", fact.FactType()).Msg("Failed to publish fact")
	}
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
