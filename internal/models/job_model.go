// -----------------------------------------------------------------------
// Pipeline Job - persisted unit of retriable background work
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind identifies a pipeline stage
type JobKind string

const (
	JobKindCrawlWebsite    JobKind = "crawl_website"
	JobKindExtractPosts    JobKind = "extract_posts"
	JobKindSyncPosts       JobKind = "sync_posts"
	JobKindRegeneratePosts JobKind = "regenerate_posts"
)

// Valid reports whether k is a known kind
func (k JobKind) Valid() bool {
	switch k {
	case JobKindCrawlWebsite, JobKindExtractPosts, JobKindSyncPosts, JobKindRegeneratePosts:
		return true
	}
	return false
}

// JobStatus is the job state machine: pending -> running -> completed | failed.
// A transient failure with retry budget left moves running back to pending.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one persisted stage execution. It is created by the scheduler, by a
// collaborator, or by the completion of its parent, and mutated only by the
// orchestrator.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	SourceID    string          `json:"source_id"` // serialization key together with Kind
	ParentID    string          `json:"parent_id,omitempty"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	NextRunAt   time.Time       `json:"next_run_at"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	HeartbeatAt *time.Time      `json:"heartbeat_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
}

// LockKey is the serialization key: jobs sharing it never run concurrently
func (j *Job) LockKey() string {
	return string(j.Kind) + ":" + j.SourceID
}

// DecodePayload unmarshals the job payload into v
func (j *Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return Permanent(fmt.Errorf("job %s has no payload", j.ID))
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

// JobSpec describes a job to enqueue
type JobSpec struct {
	Kind     JobKind
	SourceID string
	Payload  interface{}
	ParentID string
}

// JobStatusView is what getJob exposes
type JobStatusView struct {
	ID         string          `json:"id"`
	Kind       JobKind         `json:"kind"`
	Status     JobStatus       `json:"status"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	NextRunAt  time.Time       `json:"next_run_at"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// View returns the read-only status view of j
func (j *Job) View() JobStatusView {
	return JobStatusView{
		ID:         j.ID,
		Kind:       j.Kind,
		Status:     j.Status,
		Error:      j.Error,
		RetryCount: j.RetryCount,
		NextRunAt:  j.NextRunAt,
		Result:     j.Result,
	}
}

// Stage payloads

// CrawlPayload is the input of a CrawlWebsite job
type CrawlPayload struct {
	SourceID string `json:"source_id" validate:"required"`
}

// ExtractPayload is the input of an ExtractPosts job
type ExtractPayload struct {
	SourceID string   `json:"source_id" validate:"required"`
	PageURLs []string `json:"page_urls" validate:"required,min=1"`
}

// SyncPayload is the input of a SyncPosts job
type SyncPayload struct {
	SourceID string          `json:"source_id" validate:"required"`
	Posts    []ExtractedPost `json:"posts"`
}

// RegeneratePayload is the input of a RegeneratePosts job
type RegeneratePayload struct {
	SourceID string `json:"source_id" validate:"required"`
}
