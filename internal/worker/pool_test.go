package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/keystone-hpc/keystone/internal/store"
)

// memQueue is an in-memory Queue. Jobs are claimed in insertion order.
type memQueue struct {
	mu        sync.Mutex
	pending   []*store.Job
	completed []uuid.UUID
	failed    map[uuid.UUID]string
	claimErr  error
}

func (m *memQueue) push(queue string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.pending = append(m.pending, &store.Job{ID: id, Queue: queue, Payload: json.RawMessage(`{}`)})
	return id
}

func (m *memQueue) ClaimJob(_ context.Context, queue, _ string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	for i, j := range m.pending {
		if j.Queue == queue {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			j.Attempts++
			return j, nil
		}
	}
	return nil, nil
}

func (m *memQueue) CompleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *memQueue) FailJob(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed == nil {
		m.failed = make(map[uuid.UUID]string)
	}
	m.failed[id] = errMsg
	return nil
}

func (m *memQueue) RecoverStaleJobs(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func TestProcessOne(t *testing.T) {
	q := &memQueue{}
	p := New(q, Options{})

	var ran []string
	p.Register("ok", func(context.Context, json.RawMessage) error {
		ran = append(ran, "ok")
		return nil
	})
	p.Register("bad", func(context.Context, json.RawMessage) error {
		ran = append(ran, "bad")
		return errors.New("smtp unavailable")
	})

	okID := q.push("ok")
	badID := q.push("bad")
	ctx := context.Background()

	if !p.processOne(ctx, "ok") {
		t.Fatal("processOne(ok) claimed nothing")
	}
	if !p.processOne(ctx, "bad") {
		t.Fatal("processOne(bad) claimed nothing")
	}
	if p.processOne(ctx, "ok") {
		t.Error("processOne on an empty queue reported a claim")
	}

	if len(ran) != 2 {
		t.Errorf("handlers ran %v, want [ok bad]", ran)
	}
	if len(q.completed) != 1 || q.completed[0] != okID {
		t.Errorf("completed = %v, want [%s]", q.completed, okID)
	}
	if msg := q.failed[badID]; msg != "smtp unavailable" {
		t.Errorf("failed[%s] = %q, want handler error", badID, msg)
	}
}

func TestProcessOne_ClaimError(t *testing.T) {
	q := &memQueue{claimErr: errors.New("connection refused")}
	p := New(q, Options{})
	p.Register("ok", func(context.Context, json.RawMessage) error { return nil })

	if p.processOne(context.Background(), "ok") {
		t.Error("claim error should report no job")
	}
}

type stubSweeper struct {
	got []string
	err error
}

func (s *stubSweeper) RunSweep(_ context.Context, sweep string) error {
	s.got = append(s.got, sweep)
	return s.err
}

func TestSweepHandler(t *testing.T) {
	s := &stubSweeper{}
	h := SweepHandler(s, "notify_past_expirations")
	if err := h(context.Background(), json.RawMessage(`{"scheduled_for":"2026-03-01"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(s.got) != 1 || s.got[0] != "notify_past_expirations" {
		t.Errorf("RunSweep calls = %v", s.got)
	}

	s.err = errors.New("expiration sweep incomplete")
	if err := h(context.Background(), nil); !errors.Is(err, s.err) {
		t.Errorf("err = %v, want %v", err, s.err)
	}
}

func TestPoolStart_StopsOnCancel(t *testing.T) {
	p := New(&memQueue{}, Options{PollInterval: 10 * time.Millisecond})
	p.Register("ok", func(context.Context, json.RawMessage) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestProcessOne_JobTimeout(t *testing.T) {
	q := &memQueue{}
	p := New(q, Options{JobTimeout: 20 * time.Millisecond})
	p.Register("slow", func(ctx context.Context, _ json.RawMessage) error {
		<-ctx.Done()
		return ctx.Err()
	})
	id := q.push("slow")

	before := testutil.ToFloat64(jobsProcessed.WithLabelValues("slow", outcomeFailed))
	if !p.processOne(context.Background(), "slow") {
		t.Fatal("processOne claimed nothing")
	}
	if msg := q.failed[id]; msg != context.DeadlineExceeded.Error() {
		t.Errorf("failed[%s] = %q, want deadline exceeded", id, msg)
	}
	if got := testutil.ToFloat64(jobsProcessed.WithLabelValues("slow", outcomeFailed)); got != before+1 {
		t.Errorf("failed counter = %v, want %v", got, before+1)
	}
}

func TestProcessOne_NoHandlerFailsJob(t *testing.T) {
	q := &memQueue{}
	p := New(q, Options{})
	id := q.push("orphan")

	if !p.processOne(context.Background(), "orphan") {
		t.Fatal("processOne claimed nothing")
	}
	if _, ok := q.failed[id]; !ok {
		t.Error("job without a handler should be failed, not left running")
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{StaleAfter: time.Hour}.withDefaults()
	if o.PollInterval != 2*time.Second || o.StaleCheckInterval != time.Minute {
		t.Errorf("defaults = %+v", o)
	}
	if o.StaleAfter != time.Hour {
		t.Errorf("StaleAfter = %v, want explicit value kept", o.StaleAfter)
	}
	if o.JobTimeout != 0 {
		t.Errorf("JobTimeout = %v, want 0 (unbounded)", o.JobTimeout)
	}
}
