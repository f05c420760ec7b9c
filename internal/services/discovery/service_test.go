package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/services/llm/llmtest"
	"github.com/ternarybob/gleaner/internal/services/validation"
	"github.com/ternarybob/gleaner/internal/storage/badger"
)

type recordingQueue struct {
	mu    sync.Mutex
	specs []models.JobSpec
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, spec models.JobSpec) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.specs = append(q.specs, spec)
	return &models.Job{ID: common.NewJobID(), Kind: spec.Kind, SourceID: spec.SourceID}, nil
}

func (q *recordingQueue) GetJob(ctx context.Context, id string) (*models.JobStatusView, error) {
	return nil, models.ErrNotFound
}

func lookup(ctx context.Context, host string) ([]string, error) {
	if host == "intranet.example" {
		return []string{"10.0.0.8"}, nil
	}
	return []string{"93.184.216.34"}, nil
}

func newTestService(t *testing.T, search *llmtest.FakeSearch, social bool) (*Service, interfaces.SourceStorage, *recordingQueue) {
	t.Helper()
	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	queue := &recordingQueue{}
	config := common.DiscoveryConfig{Queries: []string{"food bank springfield"}, MaxResultsPerQuery: 10}
	validator := validation.NewURLValidator(false).WithLookup(lookup)
	service := NewService(config, social, search, validator, manager.SourceStorage(), queue, nil, arbor.NewLogger())
	return service, manager.SourceStorage(), queue
}

func TestRunDiscovery_CreatesSourcesAndQueuesCrawls(t *testing.T) {
	search := &llmtest.FakeSearch{Results: map[string][]interfaces.SearchResult{
		"food bank springfield": {
			{Title: "Springfield Food Bank", URL: "https://www.springfieldfood.org/about"},
			{Title: "Same host", URL: "https://springfieldfood.org/contact"},
			{Title: "Pantry on Facebook", URL: "https://www.facebook.com/springfieldpantry"},
			{Title: "Private", URL: "https://intranet.example/"},
			{Title: "Mail", URL: "mailto:hello@example.org"},
		},
	}}
	service, sources, queue := newTestService(t, search, true)

	result, err := service.RunDiscovery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.QueriesExecuted)
	assert.Equal(t, 2, result.WebsitesCreated)
	assert.Len(t, result.SourceIDs, 2)

	all, err := sources.ListSources(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	kinds := map[models.SourceKind]models.Source{}
	for _, s := range all {
		kinds[s.Kind] = s
	}
	assert.Equal(t, "springfieldfood.org", kinds[models.SourceKindWebsite].Host)
	assert.Equal(t, "Springfield Food Bank", kinds[models.SourceKindWebsite].Name)
	assert.Equal(t, "food bank springfield", kinds[models.SourceKindWebsite].DiscoveredBy)
	assert.Equal(t, "springfieldpantry", kinds[models.SourceKindSocial].Handle)

	require.Len(t, queue.specs, 2)
	for _, spec := range queue.specs {
		assert.Equal(t, models.JobKindCrawlWebsite, spec.Kind)
		assert.Equal(t, models.CrawlPayload{SourceID: spec.SourceID}, spec.Payload)
	}

	// a second run finds only known hosts
	again, err := service.RunDiscovery(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.WebsitesCreated)
	assert.Len(t, queue.specs, 2)
}

func TestDiscover_SocialDisabledSkipsProfiles(t *testing.T) {
	search := &llmtest.FakeSearch{Results: map[string][]interfaces.SearchResult{
		"q": {{URL: "https://instagram.com/pantry"}},
	}}
	service, _, queue := newTestService(t, search, false)

	result, err := service.Discover(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Zero(t, result.WebsitesCreated)
	assert.Empty(t, queue.specs)
}

func TestDiscover_FailingQueries(t *testing.T) {
	search := &llmtest.FakeSearch{Err: errors.New("search unavailable")}
	service, _, _ := newTestService(t, search, false)

	result, err := service.Discover(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 discovery queries failed")
	assert.Zero(t, result.QueriesExecuted)

	result, err = service.Discover(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.QueriesExecuted)
}

func TestDiscover_EnqueueFailureLeavesSourceUnknown(t *testing.T) {
	search := &llmtest.FakeSearch{Results: map[string][]interfaces.SearchResult{
		"q": {{Title: "Springfield Food Bank", URL: "https://springfieldfood.org/"}},
	}}
	service, sources, queue := newTestService(t, search, false)
	ctx := context.Background()

	queue.err = errors.New("queue unavailable")
	_, err := service.Discover(ctx, []string{"q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unavailable")

	all, err := sources.ListSources(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, all)

	// the next run admits the host again and queues its crawl
	queue.err = nil
	result, err := service.Discover(ctx, []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.WebsitesCreated)
	require.Len(t, queue.specs, 1)
	assert.Equal(t, models.JobKindCrawlWebsite, queue.specs[0].Kind)
}
