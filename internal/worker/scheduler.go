package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keystone-hpc/keystone/internal/store"
)

// Enqueuer inserts jobs; *store.Store implements it.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, p store.EnqueueParams) (uuid.UUID, bool, error)
}

// Scheduler enqueues one job per queue per calendar day. The lock key
// "<queue>:<YYYY-MM-DD>" makes extra ticks, restarts and concurrent
// schedulers in other processes harmless.
type Scheduler struct {
	enq      Enqueuer
	queues   []string
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a Scheduler that checks every interval. now defaults
// to time.Now when nil.
func NewScheduler(enq Enqueuer, interval time.Duration, now func() time.Time, queues ...string) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{enq: enq, queues: queues, interval: interval, now: now}
}

// Run enqueues today's jobs immediately and then on every tick until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "scheduler started", "queues", s.queues, "interval", s.interval)
	for {
		if _, err := s.Tick(ctx); err != nil {
			slog.ErrorContext(ctx, "schedule jobs failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping")
			return
		case <-ticker.C:
		}
	}
}

// Tick enqueues today's job for every queue that does not have one yet and
// returns how many were inserted.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	day := s.now().UTC().Format(time.DateOnly)
	payload, err := json.Marshal(map[string]string{"scheduled_for": day})
	if err != nil {
		return 0, fmt.Errorf("schedule: marshal payload: %w", err)
	}

	inserted := 0
	for _, q := range s.queues {
		key := LockKey(q, day)
		id, ok, err := s.enq.EnqueueJob(ctx, store.EnqueueParams{
			Queue:   q,
			Payload: payload,
			LockKey: &key,
		})
		if err != nil {
			return inserted, fmt.Errorf("schedule %s: %w", q, err)
		}
		if ok {
			inserted++
			jobsScheduled.WithLabelValues(q).Inc()
			slog.InfoContext(ctx, "job scheduled", "queue", q, "job_id", id, "lock_key", key)
		}
	}
	return inserted, nil
}

// LockKey returns the dedup key for queue's job on day (YYYY-MM-DD).
func LockKey(queue, day string) string {
	return queue + ":" + day
}
