// Package worker provides a goroutine pool that claims and executes jobs
// from the job_queue table using FOR UPDATE SKIP LOCKED, and a scheduler
// that enqueues the daily notification sweeps.
//
// Handlers are registered per queue name before calling Pool.Start.
// Each queue gets a dedicated polling goroutine; a shared recovery goroutine
// resets any jobs stuck in 'running' state.
package worker

import (
	"context"
	"encoding/json"
)

// Handler is the function executed for each claimed job.
// A non-nil return value triggers retry logic (exponential backoff up to
// max_attempts, then dead status). A nil return marks the job succeeded.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Sweeper runs a named sweep. notify.ExpirationJob implements it.
type Sweeper interface {
	RunSweep(ctx context.Context, sweep string) error
}

// SweepHandler adapts one sweep of s to a Handler. The payload only records
// when the job was scheduled and is not needed to run it.
func SweepHandler(s Sweeper, sweep string) Handler {
	return func(ctx context.Context, _ json.RawMessage) error {
		return s.RunSweep(ctx, sweep)
	}
}
