package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRunCreated     = "run.created"
	ActionRunResumed     = "run.resumed"
	ActionRunInterrupted = "run.interrupted"
	ActionRunCompleted   = "run.completed"
	ActionRunFailed      = "run.failed"
	ActionRunCancelled   = "run.cancelled"
	ActionSweepCompleted = "sweep.completed"
)

// Audit event categories group related actions.
const (
	CategoryRun   = "graflow.run"
	CategorySweep = "graflow.sweep"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRun     = "flow_run"
	ResourceSweeper = "sweeper"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunCreated,
		ActionRunResumed,
		ActionRunInterrupted,
		ActionRunCompleted,
		ActionRunFailed,
		ActionRunCancelled,
		ActionSweepCompleted,
	}
}
