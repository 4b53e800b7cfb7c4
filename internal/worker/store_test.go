package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/keystone-hpc/keystone/internal/testutil"
)

func TestScheduledSweepRunsOncePerDay(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, time.March, 1, 6, 0, 0, 0, time.UTC)
	s := NewScheduler(db, time.Hour, func() time.Time { return now }, "notify_upcoming_expirations")
	for range 3 {
		if _, err := s.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	sweeper := &stubSweeper{}
	p := New(db, Options{})
	p.Register("notify_upcoming_expirations", SweepHandler(sweeper, "notify_upcoming_expirations"))

	for p.processOne(ctx, "notify_upcoming_expirations") {
	}
	if len(sweeper.got) != 1 {
		t.Fatalf("sweep ran %d times, want 1", len(sweeper.got))
	}

	var status string
	var payload json.RawMessage
	err := db.Pool().QueryRow(ctx,
		`SELECT status, payload FROM job_queue WHERE lock_key = $1`,
		LockKey("notify_upcoming_expirations", "2026-03-01"),
	).Scan(&status, &payload)
	if err != nil {
		t.Fatalf("query job: %v", err)
	}
	if status != "succeeded" {
		t.Errorf("status = %q, want succeeded", status)
	}
	var body map[string]string
	if err := json.Unmarshal(payload, &body); err != nil || body["scheduled_for"] != "2026-03-01" {
		t.Errorf("payload = %s (%v)", payload, err)
	}
}
