package interfaces

import (
	"context"

	"github.com/ternarybob/gleaner/internal/models"
)

// JobQueue accepts pipeline work for the orchestrator
type JobQueue interface {
	// Enqueue persists a pending job runnable immediately
	Enqueue(ctx context.Context, spec models.JobSpec) (*models.Job, error)

	// GetJob returns the status view of a job
	GetJob(ctx context.Context, id string) (*models.JobStatusView, error)
}
