package ext

import (
	"context"
	"time"

	"github.com/xraph/graflow/flow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunCreated is called after a run is persisted.
type RunCreated interface {
	OnRunCreated(ctx context.Context, r *flow.Run) error
}

// RunResumed is called after a run moves to running.
type RunResumed interface {
	OnRunResumed(ctx context.Context, r *flow.Run) error
}

// RunInterrupted is called when a run pauses at pausePoint.
type RunInterrupted interface {
	OnRunInterrupted(ctx context.Context, r *flow.Run, pausePoint string) error
}

// RunCompleted is called when a run finishes.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *flow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *flow.Run, err error) error
}

// RunCancelled is called when a run is cancelled or deleted.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *flow.Run) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// SweepCompleted is called after a reaper sweep.
type SweepCompleted interface {
	OnSweepCompleted(ctx context.Context, sweeper string, removed int64) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
