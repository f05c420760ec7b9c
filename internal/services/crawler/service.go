package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/services/validation"
)

// Service crawls website and social sources into the content cache and
// summarizes what it fetched
type Service struct {
	config     *common.Config
	sources    interfaces.SourceStorage
	cache      interfaces.ContentCache
	summarizer interfaces.Summarizer
	validator  *validation.URLValidator
	limiter    *RateLimiter
	client     *http.Client
	direct     interfaces.Ingestor
	rendered   interfaces.Ingestor
	social     interfaces.Ingestor
	logger     arbor.ILogger
}

// Option configures a Service
type Option func(*Service)

// WithRenderer enables the rendered ingestor (when crawler.enable_javascript
// is set) and the social ingestor (when social.enabled is set)
func WithRenderer(renderer Renderer) Option {
	return func(s *Service) {
		wait := common.ParseDurationOr(s.config.Crawler.JavaScriptWaitTime, 3*time.Second)
		if s.config.Crawler.EnableJavaScript {
			s.rendered = NewRenderedIngestor(renderer, wait, s.logger)
		}
		if s.config.Social.Enabled {
			socialWait := common.ParseDurationOr(s.config.Social.WaitTime, 4*time.Second)
			s.social = NewSocialIngestor(renderer, nil, socialWait, s.logger)
		}
	}
}

// WithValidator replaces the URL validator
func WithValidator(validator *validation.URLValidator) Option {
	return func(s *Service) { s.validator = validator }
}

// WithIngestor replaces the direct HTTP ingestor
func WithIngestor(ingestor interfaces.Ingestor) Option {
	return func(s *Service) { s.direct = ingestor }
}

// NewService creates a new crawler service
func NewService(
	config *common.Config,
	sources interfaces.SourceStorage,
	cache interfaces.ContentCache,
	summarizer interfaces.Summarizer,
	logger arbor.ILogger,
	opts ...Option,
) *Service {
	allowPrivate := config.Crawler.AllowPrivateNetworks
	client := NewHTTPClient(config.Crawler, validation.NewTransport(allowPrivate))

	s := &Service{
		config:     config,
		sources:    sources,
		cache:      cache,
		summarizer: summarizer,
		validator:  validation.NewURLValidator(allowPrivate),
		limiter: NewRateLimiter(
			config.Crawler.MaxInFlight,
			common.ParseDurationOr(config.Crawler.RequestDelay, time.Second),
		),
		client: client,
		logger: logger,
	}
	s.direct = NewHTTPIngestor(config.Crawler, client, logger)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limiter returns the process-wide fetch limiter
func (s *Service) Limiter() *RateLimiter {
	return s.limiter
}

// NewRunIngestor returns the validated, rate limited ingestor for one crawl
// run of a source kind. Each call gets a fresh robots policy.
func (s *Service) NewRunIngestor(kind models.SourceKind) (interfaces.Ingestor, error) {
	base := s.direct
	switch {
	case kind == models.SourceKindSocial:
		if s.social == nil {
			return nil, models.Permanent(errors.New("social ingestion is disabled"))
		}
		base = s.social
	case s.rendered != nil:
		base = s.rendered
	}

	robots := validation.NewRobotsPolicy(s.client, s.config.Crawler.UserAgent, s.config.Robots, s.logger)
	limited := NewRateLimitedIngestor(base, s.limiter)
	return NewValidatedIngestor(limited, s.validator, robots, s.limiter), nil
}

// CrawlWebsite crawls the source breadth-first within its host, caches every
// fetched page and summarizes the pages worth summarizing
func (s *Service) CrawlWebsite(ctx context.Context, sourceID string) (*models.CrawlResult, error) {
	startTime := time.Now()

	source, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Permanent(err)
		}
		return nil, err
	}

	ingestor, err := s.NewRunIngestor(source.Kind)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("source_id", source.ID).
		Str("url", source.URL).
		Str("kind", string(source.Kind)).
		Msg("Crawl started")

	var pages []*models.CachedPage
	var skipped int
	if source.Kind == models.SourceKindSocial {
		page, err := s.cache.GetOrFetch(ctx, source.URL, source.ID, ingestor)
		if err != nil {
			crawlRuns.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("fetch %s: %w", source.URL, err)
		}
		pages = []*models.CachedPage{page}
	} else {
		pages, skipped, err = s.crawlSite(ctx, source, ingestor)
		if err != nil {
			crawlRuns.WithLabelValues("failed").Inc()
			return nil, err
		}
	}

	result := &models.CrawlResult{
		SourceID:     source.ID,
		PagesCrawled: len(pages),
		PagesSkipped: skipped,
	}

	summarized, worth, err := s.summarizePages(ctx, pages)
	if err != nil {
		crawlRuns.WithLabelValues("failed").Inc()
		return nil, err
	}
	result.PagesSummarized = summarized
	result.PagesSkipped += len(pages) - len(worth)
	result.PageURLs = worth

	source.LastCrawledAt = time.Now()
	if err := s.sources.SaveSource(ctx, source); err != nil {
		return nil, err
	}

	crawlRuns.WithLabelValues("ok").Inc()
	s.logger.Info().
		Str("source_id", source.ID).
		Int("pages_crawled", result.PagesCrawled).
		Int("pages_summarized", result.PagesSummarized).
		Int("pages_skipped", result.PagesSkipped).
		Dur("duration", time.Since(startTime)).
		Msg("Crawl completed")

	return result, nil
}

// crawlSite walks same-host links level by level. Every level completes
// before the next starts. A failed root page fails the crawl; other pages
// that fail to fetch are skipped.
func (s *Service) crawlSite(ctx context.Context, source *models.Source, ingestor interfaces.Ingestor) ([]*models.CachedPage, int, error) {
	root, err := url.Parse(source.URL)
	if err != nil {
		return nil, 0, models.NewInvalidURLError(source.URL, err)
	}

	collector := newLinkCollector(ingestor)
	visited := map[string]bool{normalizeURL(root): true}
	frontier := []string{source.URL}
	maxPages := s.config.Crawler.MaxPages

	var (
		pages   []*models.CachedPage
		skipped int64
	)

	for depth := 0; len(frontier) > 0 && depth <= s.config.Crawler.MaxDepth; depth++ {
		results := make([]*models.CachedPage, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.config.Crawler.MaxConcurrency)
		for i, pageURL := range frontier {
			g.Go(func() error {
				page, err := s.cache.GetOrFetch(gctx, pageURL, source.ID, collector)
				if err == nil {
					results[i] = page
					return nil
				}
				if depth == 0 || models.FetchFailureKind(err) == "" {
					return fmt.Errorf("fetch %s: %w", pageURL, err)
				}
				atomic.AddInt64(&skipped, 1)
				s.logger.Warn().
					Str("source_id", source.ID).
					Str("url", pageURL).
					Str("failure", string(models.FetchFailureKind(err))).
					Err(err).
					Msg("Skipping page")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}

		var next []string
		for i, page := range results {
			if page == nil {
				continue
			}
			pages = append(pages, page)

			for _, link := range SameSiteLinks(collector.Links(frontier[i]), root) {
				u, err := url.Parse(link)
				if err != nil {
					continue
				}
				key := normalizeURL(u)
				if visited[key] || len(visited) >= maxPages {
					continue
				}
				visited[key] = true
				next = append(next, link)
			}
		}

		s.logger.Debug().
			Str("source_id", source.ID).
			Int("depth", depth).
			Int("fetched", len(pages)).
			Int("next_level", len(next)).
			Msg("Crawl level completed")
		frontier = next
	}

	return pages, int(skipped), nil
}

// summarizePages summarizes the pages worth summarizing and returns how many
// hold a summary afterwards and the urls of the worthwhile pages
func (s *Service) summarizePages(ctx context.Context, pages []*models.CachedPage) (int, []string, error) {
	var worth []*models.CachedPage
	for _, page := range pages {
		if page.WorthSummarizing {
			worth = append(worth, page)
		}
	}

	var summarized int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Crawler.MaxConcurrency)
	for _, page := range worth {
		g.Go(func() error {
			ok, err := s.summarizer.EnsureSummary(gctx, page)
			if err != nil {
				return fmt.Errorf("summarize %s: %w", page.URL, err)
			}
			if ok {
				atomic.AddInt64(&summarized, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	urls := make([]string, 0, len(worth))
	for _, page := range worth {
		urls = append(urls, page.URL)
	}
	return int(summarized), urls, nil
}

// normalizeURL is the visited-set key: lower-case host without www, no
// fragment, no trailing slash
func normalizeURL(u *url.URL) string {
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	key := models.NormalizeHost(u.Host) + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// linkCollector records the links of every page fetched through it
type linkCollector struct {
	inner interfaces.Ingestor
	mu    sync.Mutex
	links map[string][]string
}

func newLinkCollector(inner interfaces.Ingestor) *linkCollector {
	return &linkCollector{inner: inner, links: make(map[string][]string)}
}

func (c *linkCollector) Fetch(ctx context.Context, url string) (*models.RawPage, error) {
	page, err := c.inner.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.links[url] = page.Links
	c.mu.Unlock()
	return page, nil
}

// Links returns the links recorded for url
func (c *linkCollector) Links(url string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[url]
}
