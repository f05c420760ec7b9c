package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// Key layout (raw badger, outside the badgerhold keyspace):
//
//	jobs:row:{id}                      job JSON
//	jobs:ready:{nextRunAtNano}:{id}    present only while the job is pending
//	jobs:running:{id}                  present only while the job is running
//	jobs:lock:{kind}:{sourceID}        id of the running job holding the key
const (
	jobRowPrefix     = "jobs:row:"
	jobReadyPrefix   = "jobs:ready:"
	jobRunningPrefix = "jobs:running:"
	jobLockPrefix    = "jobs:lock:"

	conflictRetries = 5
)

// JobStorage is the job table. Every state transition is a single badger
// transaction, so a claim either fully happens or not at all, and badger's
// conflict detection rejects a second transaction that read the same keys.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	claim  sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

func jobRowKey(id string) []byte { return []byte(jobRowPrefix + id) }

func jobReadyKey(nextRunAt time.Time, id string) []byte {
	// Zero pad to 20 digits so lexical order equals numeric order
	return []byte(fmt.Sprintf("%s%020d:%s", jobReadyPrefix, nextRunAt.UnixNano(), id))
}

func jobRunningKey(id string) []byte { return []byte(jobRunningPrefix + id) }

func jobLockKey(lockKey string) []byte { return []byte(jobLockPrefix + lockKey) }

func parseReadyKey(key []byte) (time.Time, string, error) {
	if len(key) <= len(jobReadyPrefix)+21 {
		return time.Time{}, "", fmt.Errorf("invalid ready key %q", key)
	}
	suffix := string(key[len(jobReadyPrefix):])

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}

func readJob(txn *badger.Txn, id string) (*models.Job, error) {
	item, err := txn.Get(jobRowKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}

	var job models.Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func writeJob(txn *badger.Txn, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return txn.Set(jobRowKey(job.ID), data)
}

// deleteIfPresent ignores missing keys
func deleteIfPresent(txn *badger.Txn, key []byte) error {
	if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts
func (s *JobStorage) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = s.db.DB().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug().Int("attempt", attempt+1).Msg("Job transaction conflict, retrying")
	}
	return err
}

// insertPending writes a new pending row and its ready index entry
func insertPending(txn *badger.Txn, job *models.Job) error {
	job.Status = models.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.NextRunAt.IsZero() {
		job.NextRunAt = job.CreatedAt
	}
	if err := writeJob(txn, job); err != nil {
		return err
	}
	return txn.Set(jobReadyKey(job.NextRunAt, job.ID), []byte{})
}

func (s *JobStorage) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !job.Kind.Valid() {
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	return s.update(func(txn *badger.Txn) error {
		return insertPending(txn, job)
	})
}

func (s *JobStorage) Claim(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	s.claim.Lock()
	defer s.claim.Unlock()

	var claimed *models.Job
	err := s.update(func(txn *badger.Txn) error {
		claimed = nil

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(jobReadyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var readyKey []byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id, err := parseReadyKey(key)
			if err != nil {
				continue
			}
			// Sorted by time: nothing after a future entry is due either
			if ts.After(now) {
				break
			}

			job, err := readJob(txn, id)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if job.Status != models.JobStatusPending {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}

			// Same kind and source already running: leave it queued
			if _, err := txn.Get(jobLockKey(job.LockKey())); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			claimed = job
			readyKey = key
			break
		}

		if claimed == nil {
			return models.ErrNoJob
		}

		started := now
		claimed.Status = models.JobStatusRunning
		claimed.StartedAt = &started
		claimed.HeartbeatAt = &started
		claimed.WorkerID = workerID

		if err := txn.Delete(readyKey); err != nil {
			return err
		}
		if err := txn.Set(jobLockKey(claimed.LockKey()), []byte(claimed.ID)); err != nil {
			return err
		}
		if err := txn.Set(jobRunningKey(claimed.ID), []byte{}); err != nil {
			return err
		}
		return writeJob(txn, claimed)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return nil, models.ErrNoJob
		}
		return nil, err
	}
	return claimed, nil
}

// transition loads a job running under workerID, applies fn and releases its
// running marker and lock. A job reclaimed and claimed again by another worker
// fails with models.ErrJobNotOwned.
func (s *JobStorage) transition(id, workerID string, fn func(txn *badger.Txn, job *models.Job) error) error {
	return s.update(func(txn *badger.Txn) error {
		job, err := readJob(txn, id)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusRunning {
			return fmt.Errorf("job %s is %s, not running", id, job.Status)
		}
		if job.WorkerID != workerID {
			return fmt.Errorf("job %s claimed by %q: %w", id, job.WorkerID, models.ErrJobNotOwned)
		}

		if err := deleteIfPresent(txn, jobRunningKey(id)); err != nil {
			return err
		}
		if err := releaseLock(txn, job); err != nil {
			return err
		}
		if err := fn(txn, job); err != nil {
			return err
		}
		return writeJob(txn, job)
	})
}

// releaseLock deletes the lock key only when job holds it
func releaseLock(txn *badger.Txn, job *models.Job) error {
	key := jobLockKey(job.LockKey())
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	holder, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(holder) != job.ID {
		return nil
	}
	return txn.Delete(key)
}

func (s *JobStorage) Heartbeat(ctx context.Context, id string, now time.Time) error {
	return s.update(func(txn *badger.Txn) error {
		job, err := readJob(txn, id)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusRunning {
			return nil
		}
		beat := now
		job.HeartbeatAt = &beat
		return writeJob(txn, job)
	})
}

func (s *JobStorage) Complete(ctx context.Context, id, workerID string, result json.RawMessage, successor *models.Job) error {
	return s.transition(id, workerID, func(txn *badger.Txn, job *models.Job) error {
		completed := time.Now()
		job.Status = models.JobStatusCompleted
		job.CompletedAt = &completed
		job.Result = result
		job.Error = ""
		job.WorkerID = ""

		if successor == nil {
			return nil
		}
		successor.ParentID = job.ID
		return insertPending(txn, successor)
	})
}

func (s *JobStorage) Retry(ctx context.Context, id, workerID, errMsg string, nextRunAt time.Time) error {
	return s.transition(id, workerID, func(txn *badger.Txn, job *models.Job) error {
		job.Status = models.JobStatusPending
		job.RetryCount++
		job.Error = errMsg
		job.NextRunAt = nextRunAt
		job.WorkerID = ""
		return txn.Set(jobReadyKey(nextRunAt, job.ID), []byte{})
	})
}

func (s *JobStorage) Fail(ctx context.Context, id, workerID, errMsg string) error {
	return s.transition(id, workerID, func(txn *badger.Txn, job *models.Job) error {
		failed := time.Now()
		job.Status = models.JobStatusFailed
		job.Error = errMsg
		job.CompletedAt = &failed
		job.WorkerID = ""
		return nil
	})
}

func (s *JobStorage) ReclaimStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var reclaimed []string
	err := s.update(func(txn *badger.Txn) error {
		reclaimed = reclaimed[:0]

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(jobRunningPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale []*models.Job
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			job, err := readJob(txn, id)
			if err != nil {
				return err
			}
			last := job.HeartbeatAt
			if last == nil {
				last = job.StartedAt
			}
			if last != nil && last.Before(cutoff) {
				stale = append(stale, job)
			}
		}

		now := time.Now()
		for _, job := range stale {
			if err := txn.Delete(jobRunningKey(job.ID)); err != nil {
				return err
			}
			if err := releaseLock(txn, job); err != nil {
				return err
			}
			job.Status = models.JobStatusPending
			job.NextRunAt = now
			job.WorkerID = ""
			job.HeartbeatAt = nil
			if err := writeJob(txn, job); err != nil {
				return err
			}
			if err := txn.Set(jobReadyKey(now, job.ID), []byte{}); err != nil {
				return err
			}
			reclaimed = append(reclaimed, job.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := s.db.DB().View(func(txn *badger.Txn) error {
		var err error
		job, err = readJob(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs newest first; an empty status matches every job
func (s *JobStorage) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.DB().View(func(txn *badger.Txn) error {
		prefix := []byte(jobRowPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if status == "" || job.Status == status {
				jobs = append(jobs, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
