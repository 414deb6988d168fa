// Package flow manages the lifecycle of flow runs: creation, resumption
// through an execution engine, cancellation and inspection of paused or
// finished state.
package flow

import (
	"context"
	"time"

	"github.com/xraph/graflow/id"
)

// Status is the lifecycle status of a run.
type Status string

const (
	// StatusPending means the run was created but never resumed.
	StatusPending Status = "pending"
	// StatusRunning means an invocation is in progress.
	StatusRunning Status = "running"
	// StatusInterrupted means the run is paused waiting for input.
	StatusInterrupted Status = "interrupted"
	// StatusCompleted means the flow reached its end.
	StatusCompleted Status = "completed"
	// StatusFailed means the last invocation returned an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was cancelled or deleted.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible apart from
// a soft-delete.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// InProgress reports whether the run can still make progress.
func (s Status) InProgress() bool {
	return s == StatusPending || s == StatusRunning || s == StatusInterrupted
}

// CanTransition reports whether s may move to to.
func (s Status) CanTransition(to Status) bool {
	if to == StatusCancelled {
		return !s.IsTerminal()
	}
	switch s {
	case StatusPending, StatusInterrupted:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusInterrupted || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// InProgressStatuses lists the non-terminal statuses.
var InProgressStatuses = []Status{StatusPending, StatusRunning, StatusInterrupted}

// Run is one execution of a flow type version.
type Run struct {
	ID            id.FlowID  `json:"id"`
	OwnerID       *string    `json:"owner_id,omitempty"`
	Namespace     string     `json:"namespace"`
	Type          string     `json:"flow_type"`
	Version       string     `json:"version"`
	DisplayName   string     `json:"display_name,omitempty"`
	CoverImageURL string     `json:"cover_image_url,omitempty"`
	Status        Status     `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastResumedAt *time.Time `json:"last_resumed_at,omitempty"`
}

// Owner returns the owner ID or "" for an anonymous run.
func (r *Run) Owner() string {
	if r.OwnerID == nil {
		return ""
	}
	return *r.OwnerID
}

// RunName is the engine run name "{namespace}_{type}_{version}".
func (r *Run) RunName() string {
	return r.Namespace + "_" + r.Type + "_" + r.Version
}

// ListOpts controls run listing. Results are ordered by most recent
// activity: last resume, or creation for never-resumed runs.
type ListOpts struct {
	OwnerID   string
	Namespace string
	Type      string
	// Statuses restricts results to these statuses. Empty means all.
	Statuses []Status
	// ExcludeCancelled hides soft-deleted runs.
	ExcludeCancelled bool
	Limit            int
	Offset           int
}

// Store defines the persistence contract for runs.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.FlowID) (*Run, error)

	// ListRuns returns runs matching opts.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// TransitionRun atomically moves a run whose status is one of from to
	// status to. It returns the prior status and whether the update
	// happened. Moving to running also stamps LastResumedAt with at.
	TransitionRun(ctx context.Context, runID id.FlowID, from []Status, to Status, at time.Time) (Status, bool, error)

	// FinishRun moves a running run to status to and records errMsg. It
	// reports false, leaving the run untouched, when the run is no longer
	// running, for example after a concurrent cancel.
	FinishRun(ctx context.Context, runID id.FlowID, to Status, errMsg string) (bool, error)

	// SetRunStatus unconditionally sets the status and error message.
	SetRunStatus(ctx context.Context, runID id.FlowID, status Status, errMsg string) error
}
