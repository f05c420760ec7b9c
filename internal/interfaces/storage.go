package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/gleaner/internal/models"
)

// PageStorage persists the content cache, keyed by url
type PageStorage interface {
	GetPage(ctx context.Context, url string) (*models.CachedPage, error)
	GetPages(ctx context.Context, urls []string) ([]models.CachedPage, error)
	SavePage(ctx context.Context, page *models.CachedPage) error
	FindByContentHash(ctx context.Context, contentHash string) ([]models.CachedPage, error)
	ListBySource(ctx context.Context, sourceID string) ([]models.CachedPage, error)
	CountPages(ctx context.Context) (int, error)
}

// SourceStorage persists crawl sources
type SourceStorage interface {
	GetSource(ctx context.Context, id string) (*models.Source, error)
	SaveSource(ctx context.Context, source *models.Source) error
	// CreateIfAbsent stores source unless one with the same UniqueKey exists.
	// It returns the stored source and whether it was created.
	CreateIfAbsent(ctx context.Context, source *models.Source) (*models.Source, bool, error)
	ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error)
	DeleteSource(ctx context.Context, id string) error
}

// PostStorage persists canonical posts. Writes to one post are serialized.
type PostStorage interface {
	GetPost(ctx context.Context, id string) (*models.Post, error)
	CreatePost(ctx context.Context, post *models.Post) error
	// UpdatePost loads the post, applies fn and saves it while holding the post's write lock
	UpdatePost(ctx context.Context, id string, fn func(post *models.Post) error) error
	ListActive(ctx context.Context) ([]models.Post, error)
}

// ProposalStorage persists sync proposals and batches
type ProposalStorage interface {
	SaveProposal(ctx context.Context, proposal *models.SyncProposal) error
	GetProposal(ctx context.Context, id string) (*models.SyncProposal, error)
	// DecideProposal applies fn to a pending proposal while holding its write lock
	DecideProposal(ctx context.Context, id string, fn func(proposal *models.SyncProposal) error) error
	ListProposals(ctx context.Context, status models.ProposalStatus) ([]models.SyncProposal, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.SyncProposal, error)
	SaveBatch(ctx context.Context, batch *models.SyncBatch) error
	// StageBatch atomically stores a new batch with its proposals
	StageBatch(ctx context.Context, batch *models.SyncBatch, proposals []models.SyncProposal) error
	GetBatch(ctx context.Context, id string) (*models.SyncBatch, error)
}

// JobStorage is the job table with atomic claim semantics
type JobStorage interface {
	Enqueue(ctx context.Context, job *models.Job) error
	// Claim atomically moves the earliest eligible pending job to running.
	// Jobs whose LockKey is held by a running job are skipped. Returns models.ErrNoJob when none is eligible.
	Claim(ctx context.Context, workerID string, now time.Time) (*models.Job, error)
	Heartbeat(ctx context.Context, id string, now time.Time) error
	// Complete marks a job running under workerID completed and enqueues successor (may be nil) in the same transaction
	Complete(ctx context.Context, id, workerID string, result json.RawMessage, successor *models.Job) error
	// Retry returns a job running under workerID to pending with an incremented retry count
	Retry(ctx context.Context, id, workerID, errMsg string, nextRunAt time.Time) error
	// Fail marks a job running under workerID terminally failed
	Fail(ctx context.Context, id, workerID, errMsg string) error
	// ReclaimStale returns running jobs whose heartbeat is older than cutoff to pending
	ReclaimStale(ctx context.Context, cutoff time.Time) ([]string, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
}

// StorageManager groups every store behind one connection
type StorageManager interface {
	PageStorage() PageStorage
	SourceStorage() SourceStorage
	PostStorage() PostStorage
	ProposalStorage() ProposalStorage
	JobStorage() JobStorage
	Close() error
}
