package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job is a claimed job ready for execution by the worker pool.
type Job struct {
	ID       uuid.UUID
	Queue    string
	Payload  json.RawMessage
	Attempts int32
}

// EnqueueParams describes a job to insert into job_queue.
type EnqueueParams struct {
	Queue    string
	Priority int32
	Payload  json.RawMessage
	// LockKey, when set, makes the insert a no-op if any job already carries it.
	LockKey     *string
	MaxAttempts int32
	// RunAfter defaults to now() when nil.
	RunAfter *time.Time
}

// ClaimJob atomically claims one pending job from the named queue for the
// given workerID using FOR UPDATE SKIP LOCKED. Returns (nil, nil) when no
// job is currently available.
func (s *Store) ClaimJob(ctx context.Context, queue, workerID string) (*Job, error) {
	var (
		j       Job
		payload []byte
	)
	err := s.pool.QueryRow(ctx, `
UPDATE job_queue
SET status = 'running', locked_by = $2, locked_at = now(), attempts = attempts + 1
WHERE id = (
    SELECT id FROM job_queue
    WHERE queue = $1 AND status = 'pending' AND run_after <= now()
    ORDER BY priority DESC, run_after, created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, queue, payload, attempts`, queue, workerID).
		Scan(&j.ID, &j.Queue, &payload, &j.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	j.Payload = json.RawMessage(payload)
	return &j, nil
}

// CompleteJob marks a job as succeeded.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE job_queue
SET status = 'succeeded', finished_at = now(), locked_by = NULL, locked_at = NULL
WHERE id = $1`, id); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// FailJob marks a job as failed, applying exponential backoff for retry or
// moving it to 'dead' status if max_attempts is exhausted.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	var lastErr any
	if errMsg != "" {
		lastErr = errMsg
	}
	if _, err := s.pool.Exec(ctx, `
UPDATE job_queue
SET status      = CASE WHEN attempts >= max_attempts THEN 'dead' ELSE 'pending' END,
    finished_at = CASE WHEN attempts >= max_attempts THEN now() ELSE NULL END,
    run_after   = now() + power(2, attempts) * interval '30 seconds',
    last_error  = $2,
    locked_by   = NULL,
    locked_at   = NULL
WHERE id = $1`, id, lastErr); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

// RecoverStaleJobs resets jobs stuck in 'running' state longer than staleAfter
// back to 'pending'. Returns the number of jobs recovered.
func (s *Store) RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE job_queue
SET status = 'pending', locked_by = NULL, locked_at = NULL
WHERE status = 'running' AND locked_at < now() - $1::bigint * interval '1 second'`,
		int64(staleAfter.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// EnqueueJob inserts a new job and returns its ID. When p.LockKey collides
// with an existing job nothing is inserted and (uuid.Nil, false, nil) is
// returned.
func (s *Store) EnqueueJob(ctx context.Context, p EnqueueParams) (uuid.UUID, bool, error) {
	payload := p.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	var runAfter any
	if p.RunAfter != nil {
		runAfter = *p.RunAfter
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
INSERT INTO job_queue (queue, priority, payload, lock_key, max_attempts, run_after)
VALUES ($1, $2, $3::jsonb, $4, $5, COALESCE($6::timestamptz, now()))
ON CONFLICT (lock_key) WHERE lock_key IS NOT NULL DO NOTHING
RETURNING id`, p.Queue, p.Priority, string(payload), p.LockKey, maxAttempts, runAfter).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	return id, true, nil
}
