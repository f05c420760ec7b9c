package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// AllFactTypes lists every fact the pipeline publishes
var AllFactTypes = []string{
	models.FactPageCached,
	models.FactPageSummarized,
	models.FactPostsExtracted,
	models.FactProposalStaged,
	models.FactProposalDecided,
	models.FactSourceDiscovered,
	models.FactJobCompleted,
}

// NewLoggerSubscriber creates an event handler that logs every fact
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, fact models.Fact) error {
		logEvent := logger.Debug().Str("fact_type", fact.FactType())

		switch f := fact.(type) {
		case models.PageCached:
			logEvent = logEvent.Str("url", f.URL).Str("content_hash", f.ContentHash).Bool("changed", f.Changed)
		case models.PageSummarized:
			logEvent = logEvent.Str("url", f.URL).Bool("reused", f.Reused)
		case models.PostsExtracted:
			logEvent = logEvent.Str("source_id", f.SourceID).Int("count", f.Count)
		case models.ProposalStaged:
			logEvent = logEvent.Str("proposal_id", f.ProposalID).Str("batch_id", f.BatchID).Str("kind", string(f.Kind))
		case models.ProposalDecided:
			logEvent = logEvent.Str("proposal_id", f.ProposalID).Str("status", string(f.Status))
		case models.SourceDiscovered:
			logEvent = logEvent.Str("source_id", f.SourceID).Str("url", f.URL)
		case models.JobCompleted:
			logEvent = logEvent.Str("job_id", f.JobID).Str("kind", string(f.Kind)).Dur("duration", f.Duration)
		}

		logEvent.Msg("Fact published")
		return nil
	}
}

// SubscribeLoggerToAllFacts subscribes the logger to every fact type
func SubscribeLoggerToAllFacts(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, factType := range AllFactTypes {
		if err := eventService.Subscribe(factType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to fact type %s: %w", factType, err)
		}
	}

	logger.Debug().
		Int("fact_type_count", len(AllFactTypes)).
		Msg("Logger subscribed to all fact types")

	return nil
}
