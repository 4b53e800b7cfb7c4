package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/keystone-hpc/keystone/internal/store"
	"github.com/keystone-hpc/keystone/internal/testutil"
)

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	key := "notify_upcoming_expirations:2026-03-10"
	id, created, err := db.EnqueueJob(ctx, store.EnqueueParams{Queue: "q", LockKey: &key})
	if err != nil || !created {
		t.Fatalf("EnqueueJob: created=%v err=%v", created, err)
	}

	// Same lock key is a no-op.
	_, created, err = db.EnqueueJob(ctx, store.EnqueueParams{Queue: "q", LockKey: &key})
	if err != nil {
		t.Fatalf("EnqueueJob(dup): %v", err)
	}
	if created {
		t.Error("duplicate lock key should not enqueue")
	}

	job, err := db.ClaimJob(ctx, "q", "worker-1")
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if job == nil || job.ID != id {
		t.Fatalf("ClaimJob = %+v, want %s", job, id)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}
	if string(job.Payload) != "{}" {
		t.Errorf("Payload = %s, want {}", job.Payload)
	}

	// Nothing else to claim.
	if next, err := db.ClaimJob(ctx, "q", "worker-2"); err != nil || next != nil {
		t.Errorf("second ClaimJob = %v, %v; want nil, nil", next, err)
	}

	if err := db.CompleteJob(ctx, id); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestFailJob_BacksOffThenDies(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	id, _, err := db.EnqueueJob(ctx, store.EnqueueParams{Queue: "q", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := db.ClaimJob(ctx, "q", "w"); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if err := db.FailJob(ctx, id, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	if err := db.Pool().QueryRow(ctx, `SELECT status FROM job_queue WHERE id = $1`, id).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != "dead" {
		t.Errorf("status = %q, want dead", status)
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	if _, _, err := db.EnqueueJob(ctx, store.EnqueueParams{Queue: "q"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := db.ClaimJob(ctx, "q", "w"); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := db.Pool().Exec(ctx,
		`UPDATE job_queue SET locked_at = now() - interval '1 hour'`); err != nil {
		t.Fatalf("age job: %v", err)
	}

	n, err := db.RecoverStaleJobs(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStaleJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}
	if job, err := db.ClaimJob(ctx, "q", "w2"); err != nil || job == nil {
		t.Errorf("recovered job not claimable: %v, %v", job, err)
	}
}
