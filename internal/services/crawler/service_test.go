package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

type memSources struct {
	mu      sync.Mutex
	sources map[string]models.Source
}

func newMemSources(sources ...*models.Source) *memSources {
	m := &memSources{sources: make(map[string]models.Source)}
	for _, s := range sources {
		m.sources[s.ID] = *s
	}
	return m
}

func (m *memSources) GetSource(ctx context.Context, id string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, models.ErrNotFound)
	}
	return &s, nil
}

func (m *memSources) SaveSource(ctx context.Context, source *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source.ID] = *source
	return nil
}

func (m *memSources) CreateIfAbsent(ctx context.Context, source *models.Source) (*models.Source, bool, error) {
	return source, true, m.SaveSource(ctx, source)
}

func (m *memSources) DeleteSource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, id)
	return nil
}

func (m *memSources) ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error) {
	return nil, nil
}

// passthroughCache stores nothing and marks pages with content as worth summarizing
type passthroughCache struct {
	mu      sync.Mutex
	fetched []string
}

func (c *passthroughCache) GetOrFetch(ctx context.Context, url string, sourceID string, ingestor interfaces.Ingestor) (*models.CachedPage, error) {
	raw, err := ingestor.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.fetched = append(c.fetched, url)
	c.mu.Unlock()
	return &models.CachedPage{
		URL:              url,
		SourceID:         sourceID,
		Content:          raw.Content,
		WorthSummarizing: len(raw.Content) >= 20,
	}, nil
}

type countingSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSummarizer) PromptHash() string { return "test" }

func (s *countingSummarizer) EnsureSummary(ctx context.Context, page *models.CachedPage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.calls++
	return true, nil
}

func newSiteServer() *httptest.Server {
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, "<html><head><title>%s</title></head><body><main>%s</main></body></html>", r.URL.Path, body)
		}
	}
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/{$}", page(`<p>Welcome to the community centre website.</p><a href="/a">A</a> <a href="/b#top">B</a> <a href="/missing">M</a> <a href="/private/x">P</a> <a href="https://elsewhere.example/">E</a>`))
	mux.HandleFunc("/a", page(`<p>Activities for families every weekend.</p><a href="/b">B</a><a href="/">Home</a><a href="/deep">D</a>`))
	mux.HandleFunc("/b", page(`<p>x</p>`))
	mux.HandleFunc("/deep", page(`<p>Deep page reached at depth two.</p>`))
	return httptest.NewServer(mux)
}

func TestService_CrawlWebsite(t *testing.T) {
	server := newSiteServer()
	defer server.Close()

	source, err := models.NewSourceFromURL("src-1", server.URL+"/", "manual")
	require.NoError(t, err)

	config := testCrawlerConfig()
	sources := newMemSources(source)
	cache := &passthroughCache{}
	summarizer := &countingSummarizer{}
	service := NewService(config, sources, cache, summarizer, arbor.NewLogger())

	result, err := service.CrawlWebsite(context.Background(), "src-1")
	require.NoError(t, err)

	sort.Strings(cache.fetched)
	assert.Equal(t, []string{server.URL + "/", server.URL + "/a", server.URL + "/b", server.URL + "/deep"}, cache.fetched)

	assert.Equal(t, 4, result.PagesCrawled)
	// /b is too short; /missing and /private/x failed
	assert.Equal(t, 3, result.PagesSummarized)
	assert.Equal(t, 3, summarizer.calls)
	assert.Equal(t, 3, result.PagesSkipped)
	assert.ElementsMatch(t, []string{server.URL + "/", server.URL + "/a", server.URL + "/deep"}, result.PageURLs)

	stored, err := sources.GetSource(context.Background(), "src-1")
	require.NoError(t, err)
	assert.False(t, stored.LastCrawledAt.IsZero())
}

func TestService_CrawlWebsiteRespectsLimits(t *testing.T) {
	server := newSiteServer()
	defer server.Close()

	source, err := models.NewSourceFromURL("src-1", server.URL+"/", "manual")
	require.NoError(t, err)

	config := testCrawlerConfig()
	config.Crawler.MaxDepth = 0
	cache := &passthroughCache{}
	service := NewService(config, newMemSources(source), cache, &countingSummarizer{}, arbor.NewLogger())

	result, err := service.CrawlWebsite(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PagesCrawled)

	config = testCrawlerConfig()
	config.Crawler.MaxPages = 2
	cache = &passthroughCache{}
	service = NewService(config, newMemSources(source), cache, &countingSummarizer{}, arbor.NewLogger())

	result, err = service.CrawlWebsite(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesCrawled)
}

func TestService_RootFailureFailsCrawl(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	source, err := models.NewSourceFromURL("src-1", server.URL+"/", "manual")
	require.NoError(t, err)

	service := NewService(testCrawlerConfig(), newMemSources(source), &passthroughCache{}, &countingSummarizer{}, arbor.NewLogger())
	_, err = service.CrawlWebsite(context.Background(), "src-1")
	require.Error(t, err)
	assert.Equal(t, models.ClassTransient, models.Classify(err))
}

func TestService_SummarizerErrorPropagates(t *testing.T) {
	server := newSiteServer()
	defer server.Close()

	source, err := models.NewSourceFromURL("src-1", server.URL+"/", "manual")
	require.NoError(t, err)

	backendDown := &models.StatusError{StatusCode: 503, Err: fmt.Errorf("overloaded")}
	service := NewService(testCrawlerConfig(), newMemSources(source), &passthroughCache{}, &countingSummarizer{err: backendDown}, arbor.NewLogger())

	_, err = service.CrawlWebsite(context.Background(), "src-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, backendDown)
	assert.Equal(t, models.ClassTransient, models.Classify(err))
}

func TestService_UnknownSourceIsPermanent(t *testing.T) {
	service := NewService(testCrawlerConfig(), newMemSources(), &passthroughCache{}, &countingSummarizer{}, arbor.NewLogger())

	_, err := service.CrawlWebsite(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, models.ClassPermanent, models.Classify(err))
}

func TestService_SocialRequiresRenderer(t *testing.T) {
	source, err := models.NewSourceFromURL("src-social", "https://www.instagram.com/riversidefoodbank/", "manual")
	require.NoError(t, err)

	service := NewService(testCrawlerConfig(), newMemSources(source), &passthroughCache{}, &countingSummarizer{}, arbor.NewLogger())
	_, err = service.CrawlWebsite(context.Background(), source.ID)
	require.Error(t, err)
	assert.Equal(t, models.ClassPermanent, models.Classify(err))
}
