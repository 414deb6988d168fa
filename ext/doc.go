// Package ext defines the extension system for graflow.
//
// Extensions are notified of run lifecycle events and can react to them:
// recording metrics, writing audit logs, notifying users. Each hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type Auditor struct{}
//
//	func (a *Auditor) Name() string { return "auditor" }
//
//	func (a *Auditor) OnRunCompleted(ctx context.Context, r *flow.Run, elapsed time.Duration) error {
//	    log.Printf("run %s completed in %s", r.ID, elapsed)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunCreated] — a run was created in the pending state
//   - [RunResumed] — a run was claimed and is about to execute
//   - [RunInterrupted] — a run paused waiting for input
//   - [RunCompleted] — a run finished
//   - [RunFailed] — a run failed during execution
//   - [RunCancelled] — a run was cancelled or soft-deleted
//
// # Other Hooks
//
//   - [SweepCompleted] — a reaper sweep removed expired data
//   - [Shutdown] — the engine is shutting down
//
// The [Registry] fans out each event to every registered extension that
// implements the corresponding hook. It satisfies flow.Emitter.
package ext
