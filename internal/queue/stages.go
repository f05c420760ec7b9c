package queue

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/gleaner/internal/models"
)

// Crawler runs the CrawlWebsite stage
type Crawler interface {
	CrawlWebsite(ctx context.Context, sourceID string) (*models.CrawlResult, error)
}

// Extractor runs the ExtractPosts and RegeneratePosts stages
type Extractor interface {
	ExtractPosts(ctx context.Context, payload models.ExtractPayload) (*models.ExtractResult, error)
	RegeneratePosts(ctx context.Context, sourceID string) (*models.ExtractResult, error)
}

// Syncer runs the SyncPosts stage. jobID makes a retried job reuse the
// batch an earlier attempt staged.
type Syncer interface {
	SyncPosts(ctx context.Context, jobID string, payload models.SyncPayload) (*models.SyncResult, error)
}

var validate = validator.New()

// decode unmarshals and validates a job payload; both failures are permanent
func decode(job *models.Job, payload interface{}) error {
	if err := job.DecodePayload(payload); err != nil {
		return err
	}
	if err := validate.Struct(payload); err != nil {
		return models.Permanent(err)
	}
	return nil
}

// RegisterStages wires the pipeline: CrawlWebsite -> ExtractPosts -> SyncPosts,
// and RegeneratePosts -> SyncPosts. A stage with nothing to hand on ends the chain.
func RegisterStages(o *Orchestrator, crawler Crawler, extractor Extractor, syncer Syncer) {
	o.RegisterHandler(models.JobKindCrawlWebsite, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		var payload models.CrawlPayload
		if err := decode(job, &payload); err != nil {
			return nil, err
		}
		result, err := crawler.CrawlWebsite(ctx, payload.SourceID)
		if err != nil {
			return nil, err
		}
		outcome := &Outcome{Result: result}
		if len(result.PageURLs) > 0 {
			outcome.Next = &models.JobSpec{
				Kind:     models.JobKindExtractPosts,
				SourceID: payload.SourceID,
				Payload:  models.ExtractPayload{SourceID: payload.SourceID, PageURLs: result.PageURLs},
			}
		}
		return outcome, nil
	})

	o.RegisterHandler(models.JobKindExtractPosts, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		var payload models.ExtractPayload
		if err := decode(job, &payload); err != nil {
			return nil, err
		}
		result, err := extractor.ExtractPosts(ctx, payload)
		if err != nil {
			return nil, err
		}
		return extractOutcome(payload.SourceID, result), nil
	})

	o.RegisterHandler(models.JobKindRegeneratePosts, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		var payload models.RegeneratePayload
		if err := decode(job, &payload); err != nil {
			return nil, err
		}
		result, err := extractor.RegeneratePosts(ctx, payload.SourceID)
		if err != nil {
			return nil, err
		}
		return extractOutcome(payload.SourceID, result), nil
	})

	o.RegisterHandler(models.JobKindSyncPosts, func(ctx context.Context, job *models.Job) (*Outcome, error) {
		var payload models.SyncPayload
		if err := decode(job, &payload); err != nil {
			return nil, err
		}
		result, err := syncer.SyncPosts(ctx, job.ID, payload)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: result}, nil
	})
}

func extractOutcome(sourceID string, result *models.ExtractResult) *Outcome {
	outcome := &Outcome{Result: result}
	if len(result.Posts) > 0 {
		outcome.Next = &models.JobSpec{
			Kind:     models.JobKindSyncPosts,
			SourceID: sourceID,
			Payload:  models.SyncPayload{SourceID: sourceID, Posts: result.Posts},
		}
	}
	return outcome
}
