package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/graflow/flow"
)

var _ flow.Emitter = (*Registry)(nil)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are type-cached at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runCreated     []entry[RunCreated]
	runResumed     []entry[RunResumed]
	runInterrupted []entry[RunInterrupted]
	runCompleted   []entry[RunCompleted]
	runFailed      []entry[RunFailed]
	runCancelled   []entry[RunCancelled]
	sweepCompleted []entry[SweepCompleted]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

func add[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name, h})
	}
	return list
}

// Register adds an extension. Extensions are notified in registration
// order. Register is not safe to call concurrently with emits.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.runCreated = add(r.runCreated, name, e)
	r.runResumed = add(r.runResumed, name, e)
	r.runInterrupted = add(r.runInterrupted, name, e)
	r.runCompleted = add(r.runCompleted, name, e)
	r.runFailed = add(r.runFailed, name, e)
	r.runCancelled = add(r.runCancelled, name, e)
	r.sweepCompleted = add(r.sweepCompleted, name, e)
	r.shutdown = add(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunCreated notifies all extensions that implement RunCreated.
func (r *Registry) EmitRunCreated(ctx context.Context, run *flow.Run) {
	for _, e := range r.runCreated {
		if err := e.hook.OnRunCreated(ctx, run); err != nil {
			r.logHookError("OnRunCreated", e.name, err)
		}
	}
}

// EmitRunResumed notifies all extensions that implement RunResumed.
func (r *Registry) EmitRunResumed(ctx context.Context, run *flow.Run) {
	for _, e := range r.runResumed {
		if err := e.hook.OnRunResumed(ctx, run); err != nil {
			r.logHookError("OnRunResumed", e.name, err)
		}
	}
}

// EmitRunInterrupted notifies all extensions that implement RunInterrupted.
func (r *Registry) EmitRunInterrupted(ctx context.Context, run *flow.Run, pausePoint string) {
	for _, e := range r.runInterrupted {
		if err := e.hook.OnRunInterrupted(ctx, run, pausePoint); err != nil {
			r.logHookError("OnRunInterrupted", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *flow.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *flow.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunCancelled notifies all extensions that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, run *flow.Run) {
	for _, e := range r.runCancelled {
		if err := e.hook.OnRunCancelled(ctx, run); err != nil {
			r.logHookError("OnRunCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitSweepCompleted notifies all extensions that implement SweepCompleted.
func (r *Registry) EmitSweepCompleted(ctx context.Context, sweeper string, removed int64) {
	for _, e := range r.sweepCompleted {
		if err := e.hook.OnSweepCompleted(ctx, sweeper, removed); err != nil {
			r.logHookError("OnSweepCompleted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a hook returns an error. Hook errors
// are never propagated to the run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
