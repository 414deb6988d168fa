package flow

import (
	"fmt"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/id"
)

// StateConflictError reports an operation rejected because of the run's
// current status. It wraps graflow.ErrStateConflict.
type StateConflictError struct {
	RunID  id.FlowID
	Op     string
	Status Status
}

func (e *StateConflictError) Error() string {
	switch {
	case e.Op == "resume" && e.Status.IsTerminal():
		return fmt.Sprintf("Cannot resume flow in terminal state: %s", e.Status)
	case e.Op == "resume" && e.Status == StatusRunning:
		return "Cannot resume flow while it is running"
	case e.Op == "resume":
		return fmt.Sprintf("Cannot resume flow from state: %s", e.Status)
	default:
		return fmt.Sprintf("Cannot %s flow in terminal state: %s", e.Op, e.Status)
	}
}

func (e *StateConflictError) Unwrap() error { return graflow.ErrStateConflict }

// ExecutionError reports an engine failure that moved a run to failed. It
// unwraps to both graflow.ErrExecutionFailed and the engine's error.
type ExecutionError struct {
	RunID id.FlowID
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("flow %s: execution failed: %v", e.RunID, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{graflow.ErrExecutionFailed, e.Err}
}
