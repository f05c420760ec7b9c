package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gleaner/internal/common"
)

// WorkerPool runs Concurrency workers that poll the orchestrator for jobs
type WorkerPool struct {
	orchestrator *Orchestrator
	config       Config
	name         string
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewWorkerPool creates a worker pool. name prefixes worker ids so jobs
// claimed by different processes can be told apart.
func NewWorkerPool(orchestrator *Orchestrator, name string, logger arbor.ILogger) *WorkerPool {
	return &WorkerPool{
		orchestrator: orchestrator,
		config:       orchestrator.config,
		name:         name,
		logger:       logger,
	}
}

// Start starts the workers. They run until Stop or until ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Str("poll_interval", wp.config.PollInterval.String()).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", wp.name, i)
		wp.wg.Add(1)
		common.SafeGo(wp.logger, "queue worker "+workerID, func() {
			defer wp.wg.Done()
			wp.worker(i, workerID)
		})
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to return
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	if wp.cancel != nil {
		wp.cancel()
	}
	wp.wg.Wait()
	return nil
}

// worker is the main loop of one worker. After running a job it polls again
// immediately, so a chain proceeds without waiting a full interval per stage.
func (wp *WorkerPool) worker(index int, workerID string) {
	// Spread workers evenly across the poll interval
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(index)
	if staggerDelay > 0 {
		select {
		case <-time.After(staggerDelay):
		case <-wp.ctx.Done():
			return
		}
	}

	wp.logger.Debug().Str("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Str("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			for wp.ctx.Err() == nil {
				ran, err := wp.orchestrator.RunOnce(wp.ctx, workerID)
				if err != nil {
					wp.logger.Warn().Err(err).Str("worker_id", workerID).Msg("Error processing job")
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}
