package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// Outcome is what a stage handler returns on success. Next, when set, is
// enqueued in the same transaction that completes the job.
type Outcome struct {
	Result interface{}
	Next   *models.JobSpec
}

// JobHandler runs one stage for a claimed job
type JobHandler func(ctx context.Context, job *models.Job) (*Outcome, error)

// Orchestrator persists, claims and runs pipeline jobs. All state lives in
// the job store, so chains survive restarts and any process may run them.
type Orchestrator struct {
	config   Config
	jobs     interfaces.JobStorage
	events   interfaces.EventService
	logger   arbor.ILogger
	handlers map[models.JobKind]JobHandler
	mu       sync.RWMutex
	now      func() time.Time
}

var _ interfaces.JobQueue = (*Orchestrator)(nil)

func NewOrchestrator(config Config, jobs interfaces.JobStorage, events interfaces.EventService, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		config:   config,
		jobs:     jobs,
		events:   events,
		logger:   logger,
		handlers: make(map[models.JobKind]JobHandler),
		now:      time.Now,
	}
}

// RegisterHandler registers the handler for a job kind
func (o *Orchestrator) RegisterHandler(kind models.JobKind, handler JobHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[kind] = handler
	o.logger.Debug().Str("kind", string(kind)).Msg("Job handler registered")
}

func (o *Orchestrator) handler(kind models.JobKind) (JobHandler, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.handlers[kind]
	return h, ok
}

// newJob builds a pending job row from spec
func (o *Orchestrator) newJob(spec models.JobSpec) (*models.Job, error) {
	if !spec.Kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", spec.Kind)
	}
	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", spec.Kind, err)
	}
	now := o.now()
	return &models.Job{
		ID:         common.NewJobID(),
		Kind:       spec.Kind,
		SourceID:   spec.SourceID,
		ParentID:   spec.ParentID,
		Status:     models.JobStatusPending,
		Payload:    payload,
		MaxRetries: o.config.MaxRetries,
		NextRunAt:  now,
		CreatedAt:  now,
	}, nil
}

// Enqueue persists a pending job runnable immediately
func (o *Orchestrator) Enqueue(ctx context.Context, spec models.JobSpec) (*models.Job, error) {
	job, err := o.newJob(spec)
	if err != nil {
		return nil, err
	}
	if err := o.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", spec.Kind, err)
	}
	jobsEnqueued.WithLabelValues(string(job.Kind)).Inc()
	o.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("source_id", job.SourceID).
		Msg("Job enqueued")
	return job, nil
}

// GetJob returns the status view of a job. It never mutates the job.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*models.JobStatusView, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	view := job.View()
	return &view, nil
}

// ListJobs returns jobs with status (all when empty), newest first
func (o *Orchestrator) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	return o.jobs.ListJobs(ctx, status, limit)
}

// RunOnce claims and runs a single eligible job. It reports false when no
// job was eligible.
func (o *Orchestrator) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := o.jobs.Claim(ctx, workerID, o.now())
	if errors.Is(err, models.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return true, o.execute(ctx, job)
}

// Drain runs jobs until none is eligible, following chains as successors
// become runnable. Jobs waiting on a backoff delay are left pending.
func (o *Orchestrator) Drain(ctx context.Context, workerID string) (int, error) {
	ran := 0
	for {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		ok, err := o.RunOnce(ctx, workerID)
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}
		ran++
	}
}

// SweepStale returns running jobs whose heartbeat is older than the stale
// timeout to pending. Reclaiming does not consume retry budget.
func (o *Orchestrator) SweepStale(ctx context.Context) (int, error) {
	ids, err := o.jobs.ReclaimStale(ctx, o.now().Add(-o.config.StaleTimeout))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	if len(ids) > 0 {
		jobsReclaimed.Add(float64(len(ids)))
		o.logger.Warn().Int("count", len(ids)).Strs("job_ids", ids).Msg("Reclaimed stale jobs")
	}
	return len(ids), nil
}

// execute runs the handler for a claimed job and records the outcome. The
// returned error is a storage failure; handler failures are recorded on the job.
func (o *Orchestrator) execute(ctx context.Context, job *models.Job) error {
	startTime := time.Now()
	jobLogger := o.logger.WithCorrelationId(job.ID)

	handler, ok := o.handler(job.Kind)
	if !ok {
		jobLogger.Error().Str("kind", string(job.Kind)).Msg("No handler registered for job kind")
		return o.jobs.Fail(ctx, job.ID, job.WorkerID, fmt.Sprintf("no handler for job kind %s", job.Kind))
	}

	stopHeartbeat := o.heartbeat(ctx, job.ID)
	outcome, handlerErr := o.invoke(ctx, handler, job)
	stopHeartbeat()
	duration := time.Since(startTime)
	jobDuration.WithLabelValues(string(job.Kind)).Observe(duration.Seconds())

	if handlerErr != nil {
		return o.recordFailure(ctx, job, handlerErr, duration)
	}

	var result json.RawMessage
	var successor *models.Job
	if outcome != nil {
		if outcome.Result != nil {
			data, err := json.Marshal(outcome.Result)
			if err != nil {
				return o.recordFailure(ctx, job, models.Permanent(fmt.Errorf("encode result: %w", err)), duration)
			}
			result = data
		}
		if outcome.Next != nil {
			next := *outcome.Next
			next.ParentID = job.ID
			s, err := o.newJob(next)
			if err != nil {
				return o.recordFailure(ctx, job, models.Permanent(err), duration)
			}
			successor = s
		}
	}

	if err := o.jobs.Complete(ctx, job.ID, job.WorkerID, result, successor); err != nil {
		if errors.Is(err, models.ErrJobNotOwned) {
			jobLogger.Warn().Err(err).Msg("Job was reclaimed while running, outcome discarded")
			return nil
		}
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	jobsFinished.WithLabelValues(string(job.Kind), string(models.JobStatusCompleted)).Inc()

	event := jobLogger.Info().
		Str("kind", string(job.Kind)).
		Str("source_id", job.SourceID).
		Dur("duration", duration)
	if successor != nil {
		jobsEnqueued.WithLabelValues(string(successor.Kind)).Inc()
		event = event.Str("successor_id", successor.ID).Str("successor_kind", string(successor.Kind))
	}
	event.Msg("Job completed")

	if o.events != nil {
		fact := models.JobCompleted{JobID: job.ID, Kind: job.Kind, SourceID: job.SourceID, Duration: duration}
		if err := o.events.Publish(ctx, fact); err != nil {
			jobLogger.Warn().Err(err).Msg("Failed to publish job completed")
		}
	}
	return nil
}

// invoke runs handler, turning a panic into a permanent failure
func (o *Orchestrator) invoke(ctx context.Context, handler JobHandler, job *models.Job) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, job)
}

// recordFailure retries transient failures with budget left and fails
// everything else terminally, keeping the error text verbatim
func (o *Orchestrator) recordFailure(ctx context.Context, job *models.Job, handlerErr error, duration time.Duration) error {
	jobLogger := o.logger.WithCorrelationId(job.ID)
	class := models.Classify(handlerErr)

	if class == models.ClassTransient && job.RetryCount+1 < job.MaxRetries {
		retry := job.RetryCount + 1
		nextRunAt := o.now().Add(o.config.Backoff(retry))
		if err := o.jobs.Retry(ctx, job.ID, job.WorkerID, handlerErr.Error(), nextRunAt); err != nil {
			if errors.Is(err, models.ErrJobNotOwned) {
				jobLogger.Warn().Err(err).Msg("Job was reclaimed while running, failure discarded")
				return nil
			}
			return fmt.Errorf("retry job %s: %w", job.ID, err)
		}
		jobsRetried.WithLabelValues(string(job.Kind)).Inc()
		jobLogger.Warn().
			Err(handlerErr).
			Str("kind", string(job.Kind)).
			Int("retry", retry).
			Int("max_retries", job.MaxRetries).
			Str("next_run_at", nextRunAt.Format(time.RFC3339)).
			Dur("duration", duration).
			Msg("Job failed, retry scheduled")
		return nil
	}

	if err := o.jobs.Fail(ctx, job.ID, job.WorkerID, handlerErr.Error()); err != nil {
		if errors.Is(err, models.ErrJobNotOwned) {
			jobLogger.Warn().Err(err).Msg("Job was reclaimed while running, failure discarded")
			return nil
		}
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	jobsFinished.WithLabelValues(string(job.Kind), string(models.JobStatusFailed)).Inc()
	jobLogger.Error().
		Err(handlerErr).
		Str("kind", string(job.Kind)).
		Str("class", string(class)).
		Int("retries", job.RetryCount).
		Dur("duration", duration).
		Msg("Job failed")
	return nil
}

// heartbeat refreshes the job's heartbeat until the returned stop is called
func (o *Orchestrator) heartbeat(ctx context.Context, id string) func() {
	if o.config.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer common.Recover(o.logger, "job heartbeat")
		ticker := time.NewTicker(o.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.jobs.Heartbeat(ctx, id, o.now()); err != nil {
					o.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to record heartbeat")
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
