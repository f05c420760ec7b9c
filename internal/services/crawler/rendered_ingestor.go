package crawler

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

// RenderedIngestor fetches pages through a Renderer so client-side content is included
type RenderedIngestor struct {
	renderer  Renderer
	wait      time.Duration
	processor *ContentProcessor
	logger    arbor.ILogger
}

func NewRenderedIngestor(renderer Renderer, wait time.Duration, logger arbor.ILogger) *RenderedIngestor {
	return &RenderedIngestor{
		renderer:  renderer,
		wait:      wait,
		processor: NewContentProcessor(logger),
		logger:    logger,
	}
}

func (r *RenderedIngestor) Fetch(ctx context.Context, url string) (*models.RawPage, error) {
	start := time.Now()
	html, finalURL, err := r.renderer.Render(ctx, url, r.wait)
	fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, models.NewNetworkError(url, 0, err)
	}
	if finalURL == "" {
		finalURL = url
	}

	processed, err := r.processor.ProcessHTML(html, finalURL)
	if err != nil {
		return nil, models.Permanent(err)
	}

	return &models.RawPage{
		URL:         url,
		FinalURL:    finalURL,
		Title:       processed.Title,
		Content:     processed.Markdown,
		ContentType: "text/html",
		StatusCode:  200,
		Links:       processed.Links,
		FetchedAt:   time.Now(),
	}, nil
}
