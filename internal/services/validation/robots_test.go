package validation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
)

const userAgent = "GleanerBot/1.0 (+https://example.org/bot)"

func TestParseRobots_GroupSelection(t *testing.T) {
	body := `
# comment
User-agent: *
Disallow: /private
Crawl-delay: 2

User-agent: otherbot
Disallow: /

User-agent: gleanerbot
User-agent: somebot
Disallow: /admin
Allow: /admin/public
Crawl-delay: 0.5
`
	rules := ParseRobots(body, userAgent)

	assert.False(t, rules.Allowed("/admin/settings"))
	assert.True(t, rules.Allowed("/admin/public/page"))
	assert.True(t, rules.Allowed("/private"), "specific group replaces the wildcard group")
	assert.Equal(t, 500*time.Millisecond, rules.CrawlDelay())

	wildcard := ParseRobots(body, "UnknownBot/2.0")
	assert.False(t, wildcard.Allowed("/private/x"))
	assert.True(t, wildcard.Allowed("/admin"))
	assert.Equal(t, 2*time.Second, wildcard.CrawlDelay())
}

func TestRobotsRules_LongestMatch(t *testing.T) {
	rules := ParseRobots(`
User-agent: *
Disallow: /events
Allow: /events/public
Disallow: /*.pdf$
Disallow: /search?
Allow: /page
Disallow: /page
`, userAgent)

	tests := []struct {
		path    string
		allowed bool
	}{
		{"/", true},
		{"/events", false},
		{"/events/public/2024", true},
		{"/files/report.pdf", false},
		{"/files/report.pdf?download=1", true},
		{"/search?q=food", false},
		{"/search", true},
		{"/page", true}, // equal length, allow wins
		{"/robots.txt", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, rules.Allowed(tt.path), tt.path)
	}
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("/fish*", "/fish.html"))
	assert.True(t, matchPattern("/*/about$", "/org/about"))
	assert.False(t, matchPattern("/*/about$", "/org/about/team"))
	assert.True(t, matchPattern("/$", "/"))
	assert.False(t, matchPattern("/$", "/index"))
	assert.False(t, matchPattern("/fish", "/Fish"))
}

func newPolicy(t *testing.T, client *http.Client, failOpen bool) *RobotsPolicy {
	t.Helper()
	return NewRobotsPolicy(client, userAgent, common.RobotsConfig{
		Enabled:       true,
		FailOpen:      failOpen,
		MaxCrawlDelay: "10s",
	}, arbor.NewLogger())
}

func TestRobotsPolicy_CachesPerRun(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt32(&hits, 1)
			w.Write([]byte("User-agent: *\nDisallow: /blocked\nCrawl-delay: 60\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	policy := newPolicy(t, server.Client(), true)
	ctx := context.Background()

	blocked, _ := url.Parse(server.URL + "/blocked/page")
	open, _ := url.Parse(server.URL + "/open")

	allowed, delay := policy.Check(ctx, blocked)
	assert.False(t, allowed)
	assert.Equal(t, 10*time.Second, delay, "crawl delay is capped")

	allowed, _ = policy.Check(ctx, open)
	assert.True(t, allowed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// a new run fetches again
	next := newPolicy(t, server.Client(), true)
	next.Check(ctx, open)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRobotsPolicy_FailOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL + "/anything")
	require.NoError(t, err)

	allowed, _ := newPolicy(t, server.Client(), true).Check(context.Background(), u)
	assert.True(t, allowed, "unreachable robots.txt allows everything")

	allowed, _ = newPolicy(t, server.Client(), false).Check(context.Background(), u)
	assert.False(t, allowed)
}

func TestRobotsPolicy_MissingRobotsAllows(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	u, err := url.Parse(server.URL + "/page")
	require.NoError(t, err)

	allowed, delay := newPolicy(t, server.Client(), false).Check(context.Background(), u)
	assert.True(t, allowed)
	assert.Zero(t, delay)
}

func TestRobotsPolicy_UnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	u, err := url.Parse(addr + "/page")
	require.NoError(t, err)

	allowed, _ := newPolicy(t, &http.Client{Timeout: time.Second}, true).Check(context.Background(), u)
	assert.True(t, allowed)
}

func TestRobotsPolicy_Disabled(t *testing.T) {
	policy := NewRobotsPolicy(http.DefaultClient, userAgent, common.RobotsConfig{Enabled: false}, arbor.NewLogger())
	u, _ := url.Parse("http://example.invalid/x")
	allowed, _ := policy.Check(context.Background(), u)
	assert.True(t, allowed)
}
