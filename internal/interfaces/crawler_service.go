package interfaces

import (
	"context"

	"github.com/ternarybob/gleaner/internal/models"
)

// Ingestor is a pluggable fetch strategy.
// Failures are *models.FetchError values carrying a models.FailureKind.
type Ingestor interface {
	Fetch(ctx context.Context, url string) (*models.RawPage, error)
}

// IngestorFunc adapts a function to Ingestor
type IngestorFunc func(ctx context.Context, url string) (*models.RawPage, error)

func (f IngestorFunc) Fetch(ctx context.Context, url string) (*models.RawPage, error) {
	return f(ctx, url)
}

// ContentCache is the content-addressed page cache
type ContentCache interface {
	// GetOrFetch fetches url through ingestor, stores the page under its
	// content hash and reuses any summary already produced for that hash.
	GetOrFetch(ctx context.Context, url string, sourceID string, ingestor Ingestor) (*models.CachedPage, error)
}

// Summarizer produces prompt-versioned summaries and embeddings for cached pages
type Summarizer interface {
	// PromptHash identifies the current prompt version and model
	PromptHash() string

	// EnsureSummary makes sure page holds a valid summary, calling the AI
	// backend only when no page with the same content hash has one.
	// It reports whether a summary is present afterwards.
	EnsureSummary(ctx context.Context, page *models.CachedPage) (bool, error)
}
