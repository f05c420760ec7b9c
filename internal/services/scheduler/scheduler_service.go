package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gleaner/internal/common"
)

// Handler is the work of a scheduled job
type Handler func(ctx context.Context) error

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     Handler
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// JobStatus is the operator view of a scheduled job
type JobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	IsRunning   bool       `json:"is_running"`
	LastError   string     `json:"last_error,omitempty"`
}

// Service runs the periodic pipeline jobs (discovery, dedup cleanup, stale
// job sweep) on cron schedules. Runs of the same job never overlap.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex // Protects jobs map
	jobs    map[string]*jobEntry
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob adds a job on a 5-field cron schedule. An empty schedule
// leaves the job registered for manual triggers only.
func (s *Service) RegisterJob(name, schedule, description string, handler Handler) error {
	if schedule != "" {
		if err := common.ValidateJobSchedule(schedule); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}

	if schedule != "" {
		cronID, err := s.cron.AddFunc(schedule, func() {
			s.executeJob(name)
		})
		if err != nil {
			return fmt.Errorf("failed to add job to cron: %w", err)
		}
		entry.cronID = cronID
	}
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// Start begins firing scheduled jobs
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the schedule, cancels running handlers and waits for them
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler has been started
func (s *Service) IsRunning() bool {
	return s.running
}

// TriggerJob runs a job now and returns its error. It fails when the job is
// already running.
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	_, exists := s.jobs[name]
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	return s.executeJob(name)
}

// GetJobStatus returns the status of a registered job
func (s *Service) GetJobStatus(name string) (*JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return s.statusOf(entry), nil
}

// GetAllJobStatuses returns every registered job ordered by name
func (s *Service) GetAllJobStatuses() []JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		statuses = append(statuses, *s.statusOf(entry))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// statusOf requires jobMu
func (s *Service) statusOf(entry *jobEntry) *JobStatus {
	var nextRun *time.Time
	if entry.schedule != "" {
		for _, cronEntry := range s.cron.Entries() {
			if cronEntry.ID == entry.cronID && !cronEntry.Next.IsZero() {
				next := cronEntry.Next
				nextRun = &next
				break
			}
		}
	}
	return &JobStatus{
		Name:        entry.name,
		Schedule:    entry.schedule,
		Description: entry.description,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		IsRunning:   entry.isRunning,
		LastError:   entry.lastError,
	}
}

func (s *Service) executeJob(name string) (err error) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job still running, skipping this run")
		return fmt.Errorf("job %s is already running", name)
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	s.wg.Add(1)
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in job execution")
		}

		completionTime := time.Now()
		s.jobMu.Lock()
		entry.isRunning = false
		entry.lastRun = &completionTime
		entry.lastError = ""
		if err != nil {
			entry.lastError = err.Error()
		}
		s.jobMu.Unlock()
		s.wg.Done()
	}()

	s.logger.Info().Str("job_name", name).Msg("Job execution started")

	err = handler(s.ctx)
	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", time.Since(startTime)).
			Msg("Job execution failed")
		return err
	}

	s.logger.Info().
		Str("job_name", name).
		Dur("duration", time.Since(startTime)).
		Msg("Job execution completed")
	return nil
}
