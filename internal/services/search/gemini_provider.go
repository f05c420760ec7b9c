package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"google.golang.org/genai"
)

// groundedSearcher is the slice of the Gemini service the provider needs
type groundedSearcher interface {
	GroundedSearch(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error)
}

const searchPrompt = `Search the web for: %s

Return up to %d distinct websites that best match the search, one per organization, preferring each organization's own site over directories or news articles.
Respond with only a JSON array of objects with the fields "title", "url" and "snippet".`

// GeminiProvider implements interfaces.SearchProvider with Gemini's Google
// Search grounding. Urls listed by the model are preferred; grounding
// sources fill the remainder.
type GeminiProvider struct {
	gemini  groundedSearcher
	model   string
	exclude []string
	logger  arbor.ILogger
}

var _ interfaces.SearchProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a grounded search provider
func NewGeminiProvider(gemini groundedSearcher, config common.SearchConfig, logger arbor.ILogger) *GeminiProvider {
	return &GeminiProvider{
		gemini:  gemini,
		model:   config.Model,
		exclude: config.ExcludeDomains,
		logger:  logger,
	}
}

// Search runs query through grounded search and returns at most limit results
func (p *GeminiProvider) Search(ctx context.Context, query string, limit int) ([]interfaces.SearchResult, error) {
	parsed := ParseQuery(query)
	text := parsed.BackendText()
	if text == "" {
		return nil, fmt.Errorf("search query %q has no search terms", query)
	}
	if limit <= 0 {
		limit = 10
	}

	resp, err := p.gemini.GroundedSearch(ctx, p.model, fmt.Sprintf(searchPrompt, text, limit))
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("grounded search %q: %w", query, err)
	}

	candidates := append(parseListedResults(resp.Text()), groundingResults(resp)...)

	results := make([]interfaces.SearchResult, 0, limit)
	seen := make(map[string]bool)
	for _, result := range candidates {
		u, err := url.Parse(result.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		host := normalizeHost(u.Host)
		if seen[host] || matchesAnyDomain(host, p.exclude) || !parsed.Allows(host, result.Title) {
			continue
		}
		seen[host] = true
		results = append(results, result)
		if len(results) == limit {
			break
		}
	}

	searchesTotal.WithLabelValues("ok").Inc()
	searchResults.Observe(float64(len(results)))
	p.logger.Debug().
		Str("query", query).
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Msg("Grounded search completed")

	return results, nil
}

// parseListedResults reads the JSON array the prompt asks for. Text around
// the array, such as code fences, is ignored; anything unparsable yields nil.
func parseListedResults(text string) []interfaces.SearchResult {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var listed []interfaces.SearchResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &listed); err != nil {
		return nil
	}
	out := listed[:0]
	for _, r := range listed {
		r.URL = strings.TrimSpace(r.URL)
		if r.URL != "" {
			out = append(out, r)
		}
	}
	return out
}

// groundingResults converts grounding sources into results. The Gemini API
// returns redirect uris with the source domain as title, so the domain root
// is used as the url.
func groundingResults(resp *genai.GenerateContentResponse) []interfaces.SearchResult {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var out []interfaces.SearchResult
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		domain := chunk.Web.Domain
		if domain == "" && looksLikeDomain(chunk.Web.Title) {
			domain = chunk.Web.Title
		}
		link := chunk.Web.URI
		if domain != "" {
			link = "https://" + normalizeHost(domain) + "/"
		}
		out = append(out, interfaces.SearchResult{Title: chunk.Web.Title, URL: link})
	}
	return out
}

func looksLikeDomain(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && strings.Contains(s, ".") && !strings.ContainsAny(s, " /")
}
