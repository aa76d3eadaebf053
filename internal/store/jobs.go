package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// JobStatus enumerates the lifecycle states of a background job.
type JobStatus string

const (
	// StatusQueued means the job is waiting to be claimed by a worker.
	StatusQueued JobStatus = "queued"
	// StatusProcessing means exactly one worker currently holds the job.
	StatusProcessing JobStatus = "processing"
	// StatusComplete is the successful terminal state.
	StatusComplete JobStatus = "complete"
	// StatusFailed means the most recent attempt failed; the retry policy
	// decides whether the job goes back to queued or to dead_letter.
	StatusFailed JobStatus = "failed"
	// StatusDeadLetter is the failed terminal state. Dead-letter jobs are
	// never retried automatically; an operator may replay them.
	StatusDeadLetter JobStatus = "dead_letter"
)

// ErrNoJob is returned by ClaimNext when no eligible queued job exists.
var ErrNoJob = errors.New("store: no claimable job")

// Job is a queued unit of background work.
type Job struct {
	// ID is the job UUID.
	ID string
	// SourceID is the content source this job operates on.
	SourceID string
	// TenantID scopes the job to one tenant.
	TenantID string
	// JobType selects the worker handler (e.g. "ingestion", "reindex").
	JobType string
	// Priority orders claiming: higher values are claimed first.
	Priority int
	// Status is the current lifecycle state.
	Status JobStatus
	// RetryCount is the number of failed attempts so far.
	RetryCount int
	// NextAttemptAfter is the Unix time before which the job must not be
	// claimed. Zero means immediately eligible.
	NextAttemptAfter int64
	// Metadata is an open key-value map for provider-specific context.
	// It must include a "correlation_id" for cross-system tracing.
	Metadata map[string]string
	// WorkerID identifies the worker that claimed the job, for diagnostics.
	WorkerID string
	// Error is the most recent failure message, empty if none.
	Error string
	// CreatedAt is when the job was enqueued (Unix seconds).
	CreatedAt int64
	// UpdatedAt is when the job was last mutated (Unix seconds).
	UpdatedAt int64
}

// CorrelationID returns the job's correlation id, or empty string.
func (j *Job) CorrelationID() string {
	return j.Metadata["correlation_id"]
}

// EnqueueJob creates a new queued job and returns its id. A correlation id
// is generated if the metadata does not already carry one.
func (s *Store) EnqueueJob(ctx context.Context, sourceID, tenantID, jobType string, priority int, metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	if metadata["correlation_id"] == "" {
		metadata["correlation_id"] = uuid.NewString()
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("store: marshal job metadata: %w", err)
	}

	id := uuid.NewString()
	ts := now()
	const q = `
INSERT INTO jobs (id, source_id, tenant_id, job_type, priority, status, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'queued', ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, sourceID, tenantID, jobType, priority, string(meta), ts, ts); err != nil {
		return "", fmt.Errorf("store: enqueue job: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the next eligible queued job for workerID.
//
// Eligibility: status='queued' and next_attempt_after has elapsed, ordered by
// priority descending then created_at ascending. The claim itself is a single
// conditional UPDATE guarded by status='queued'; a worker whose UPDATE touches
// zero rows lost the race and moves on to the next candidate. Ownership is
// never inferred from a separate read.
//
// Returns ErrNoJob when nothing is claimable.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	const candidates = `
SELECT id FROM jobs
WHERE  status = 'queued' AND next_attempt_after <= ?
ORDER  BY priority DESC, created_at ASC
LIMIT  10`

	rows, err := s.db.QueryContext(ctx, candidates, now())
	if err != nil {
		return nil, fmt.Errorf("store: claim candidates: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: claim scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: claim rows: %w", err)
	}

	const claim = `
UPDATE jobs SET status = 'processing', worker_id = ?, updated_at = ?
WHERE  id = ? AND status = 'queued'`

	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, claim, workerID, now(), id)
		if err != nil {
			return nil, fmt.Errorf("store: claim update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("store: claim rows affected: %w", err)
		}
		if n == 0 {
			// Another worker won this row; try the next candidate.
			continue
		}
		return s.GetJob(ctx, id)
	}
	return nil, ErrNoJob
}

// CompleteJob marks a processing job as complete.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	const q = `UPDATE jobs SET status = 'complete', error = '', updated_at = ? WHERE id = ?`
	return s.execJob(ctx, q, now(), id)
}

// RequeueJob returns a failed job to the queue for another attempt.
// retry_count is incremented and the job becomes eligible again once
// nextAttemptAfter (Unix seconds) has elapsed.
func (s *Store) RequeueJob(ctx context.Context, id, errMsg string, nextAttemptAfter int64) error {
	const q = `
UPDATE jobs SET status = 'queued', retry_count = retry_count + 1,
       next_attempt_after = ?, error = ?, worker_id = '', updated_at = ?
WHERE  id = ?`
	return s.execJob(ctx, q, nextAttemptAfter, errMsg, now(), id)
}

// DeadLetterJob parks a job in the dead-letter state for manual inspection.
func (s *Store) DeadLetterJob(ctx context.Context, id, errMsg string) error {
	const q = `UPDATE jobs SET status = 'dead_letter', error = ?, worker_id = '', updated_at = ? WHERE id = ?`
	return s.execJob(ctx, q, errMsg, now(), id)
}

// ReplayJob resets a dead-letter job back to queued with retry_count=0.
// Only dead-letter jobs can be replayed; replaying anything else returns
// ErrNotFound so callers cannot resurrect live jobs by accident.
func (s *Store) ReplayJob(ctx context.Context, id string) error {
	const q = `
UPDATE jobs SET status = 'queued', retry_count = 0, next_attempt_after = 0,
       error = '', worker_id = '', updated_at = ?
WHERE  id = ? AND status = 'dead_letter'`
	return s.execJob(ctx, q, now(), id)
}

// GetJob returns a job by id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	const q = `
SELECT id, source_id, tenant_id, job_type, priority, status, retry_count,
       next_attempt_after, metadata, worker_id, error, created_at, updated_at
FROM   jobs WHERE id = ?`

	j, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return j, nil
}

// ListDeadLetters returns all dead-letter jobs for a tenant, newest first.
// An empty tenantID lists dead letters across all tenants.
func (s *Store) ListDeadLetters(ctx context.Context, tenantID string) ([]*Job, error) {
	const q = `
SELECT id, source_id, tenant_id, job_type, priority, status, retry_count,
       next_attempt_after, metadata, worker_id, error, created_at, updated_at
FROM   jobs
WHERE  status = 'dead_letter' AND (? = '' OR tenant_id = ?)
ORDER  BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, q, tenantID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list dead letters: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list dead letters scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list dead letters rows: %w", err)
	}
	return jobs, nil
}

// QueueDepth returns the number of jobs currently queued.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'queued'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: queue depth: %w", err)
	}
	return n, nil
}

// execJob runs an UPDATE expected to touch exactly one job row.
func (s *Store) execJob(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("store: job update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: job update rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job row.
func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var status, meta string
	if err := r.Scan(&j.ID, &j.SourceID, &j.TenantID, &j.JobType, &j.Priority,
		&status, &j.RetryCount, &j.NextAttemptAfter, &meta, &j.WorkerID,
		&j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.Metadata = map[string]string{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &j.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &j, nil
}
