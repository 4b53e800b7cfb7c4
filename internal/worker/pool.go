package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keystone-hpc/keystone/internal/store"
)

// Queue is the job_queue access the pool needs; *store.Store implements it.
type Queue interface {
	ClaimJob(ctx context.Context, queue, workerID string) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Options tunes polling and recovery. Zero fields take the defaults below.
type Options struct {
	// PollInterval is how often an idle queue is checked. Default 2s.
	PollInterval time.Duration
	// StaleAfter is how long a job may stay 'running' before another worker
	// reclaims it. Sweeps mail sequentially under a rate limit, so the
	// default is 30m.
	StaleAfter time.Duration
	// StaleCheckInterval is how often stale jobs are looked for. Default 1m.
	StaleCheckInterval time.Duration
	// JobTimeout bounds a single handler run. Zero means no limit.
	// Keep it below StaleAfter or a slow job is reclaimed while still running.
	JobTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
	if o.StaleCheckInterval <= 0 {
		o.StaleCheckInterval = time.Minute
	}
	return o
}

// Pool claims and runs jobs from the job_queue table. One polling goroutine
// runs per registered queue; a shared goroutine reclaims stuck jobs.
type Pool struct {
	queue    Queue
	opts     Options
	workerID string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates a Pool backed by q. The random workerID identifies this
// process in the locked_by column.
func New(q Queue, opts Options) *Pool {
	return &Pool{
		queue:    q,
		opts:     opts.withDefaults(),
		workerID: uuid.New().String(),
		handlers: make(map[string]Handler),
	}
}

// Register associates h with the named queue. Must be called before Start.
func (p *Pool) Register(queue string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[queue] = h
}

// Queues returns the registered queue names.
func (p *Pool) Queues() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	queues := make([]string, 0, len(p.handlers))
	for q := range p.handlers {
		queues = append(queues, q)
	}
	return queues
}

// Start runs until ctx is cancelled. On cancellation no new jobs are
// claimed, in-flight jobs finish, and Start returns once every goroutine
// has exited.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, q := range p.Queues() {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			p.runQueue(ctx, queue)
		}(q)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runStaleRecovery(ctx)
	}()

	wg.Wait()
	slog.Info("worker pool stopped", "worker_id", p.workerID)
}

func (p *Pool) runQueue(ctx context.Context, queue string) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "worker queue started", "queue", queue, "worker_id", p.workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker queue stopping", "queue", queue)
			return
		case <-ticker.C:
			// Drain before waiting for the next tick.
			for p.processOne(ctx, queue) && ctx.Err() == nil {
			}
		}
	}
}

// processOne claims and runs one job. It reports whether a job was claimed.
func (p *Pool) processOne(ctx context.Context, queue string) bool {
	job, err := p.queue.ClaimJob(ctx, queue, p.workerID)
	if err != nil {
		slog.ErrorContext(ctx, "claim job error", "queue", queue, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	p.mu.RLock()
	h := p.handlers[queue]
	p.mu.RUnlock()

	// Bookkeeping outlives shutdown so the job is never left 'running'.
	bg := context.WithoutCancel(ctx)

	if h == nil {
		slog.ErrorContext(ctx, "no handler registered for queue", "queue", queue, "job_id", job.ID)
		if err := p.queue.FailJob(bg, job.ID, "no handler registered"); err != nil {
			slog.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", err)
		}
		jobsProcessed.WithLabelValues(queue, outcomeFailed).Inc()
		return true
	}

	slog.InfoContext(ctx, "executing job", "queue", queue, "job_id", job.ID, "attempts", job.Attempts)

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.opts.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
	}
	start := time.Now()
	err = h(jobCtx, job.Payload)
	cancel()
	jobDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())

	if err != nil {
		slog.ErrorContext(ctx, "job handler failed", "queue", queue, "job_id", job.ID, "error", err)
		if failErr := p.queue.FailJob(bg, job.ID, err.Error()); failErr != nil {
			slog.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", failErr)
		}
		jobsProcessed.WithLabelValues(queue, outcomeFailed).Inc()
		return true
	}

	if err := p.queue.CompleteJob(bg, job.ID); err != nil {
		slog.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		return true
	}
	jobsProcessed.WithLabelValues(queue, outcomeSucceeded).Inc()
	slog.InfoContext(ctx, "job completed", "queue", queue, "job_id", job.ID)
	return true
}

// runStaleRecovery periodically resets jobs stuck in 'running'.
func (p *Pool) runStaleRecovery(ctx context.Context) {
	ticker := time.NewTicker(p.opts.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RecoverStaleJobs(ctx, p.opts.StaleAfter)
			if err != nil {
				slog.ErrorContext(ctx, "stale job recovery error", "error", err)
				continue
			}
			if n > 0 {
				jobsRecovered.Add(float64(n))
				slog.WarnContext(ctx, "reclaimed stale jobs", "count", n, "stale_after", p.opts.StaleAfter)
			}
		}
	}
}
