package search

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// ErrSearchDisabled is returned when no search backend is configured
var ErrSearchDisabled = errors.New("search is disabled: set search.mode = \"gemini\" and a Gemini API key")

// DisabledProvider is used when no search backend is available. Its error is
// permanent so discovery jobs fail instead of retrying.
type DisabledProvider struct {
	logger arbor.ILogger
}

var _ interfaces.SearchProvider = (*DisabledProvider)(nil)

func NewDisabledProvider(logger arbor.ILogger) *DisabledProvider {
	return &DisabledProvider{logger: logger}
}

func (p *DisabledProvider) Search(ctx context.Context, query string, limit int) ([]interfaces.SearchResult, error) {
	p.logger.Warn().
		Str("query", query).
		Msg("Search attempted but search is disabled")
	return nil, models.Permanent(ErrSearchDisabled)
}
