package interfaces

import "context"

// SearchResult is one web search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchProvider discovers URLs for a free-text query. It backs both source
// discovery and the web_search tool of the enrichment pass.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}
