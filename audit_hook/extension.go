package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/graflow/ext"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/scope"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.RunCreated     = (*Extension)(nil)
	_ ext.RunResumed     = (*Extension)(nil)
	_ ext.RunInterrupted = (*Extension)(nil)
	_ ext.RunCompleted   = (*Extension)(nil)
	_ ext.RunFailed      = (*Extension)(nil)
	_ ext.RunCancelled   = (*Extension)(nil)
	_ ext.SweepCompleted = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Actor is the subject of the request that caused the event, empty for
	// anonymous or background callers.
	Actor string `json:"actor,omitempty"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges graflow lifecycle events to an audit trail backend.
type Extension struct {
	recorder    Recorder
	enabled     map[string]bool // nil = all enabled
	emptySweeps bool
	logger      *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunCreated implements ext.RunCreated.
func (e *Extension) OnRunCreated(ctx context.Context, r *flow.Run) error {
	return e.recordRun(ctx, ActionRunCreated, SeverityInfo, OutcomeSuccess, r, nil)
}

// OnRunResumed implements ext.RunResumed.
func (e *Extension) OnRunResumed(ctx context.Context, r *flow.Run) error {
	return e.recordRun(ctx, ActionRunResumed, SeverityInfo, OutcomeSuccess, r, nil)
}

// OnRunInterrupted implements ext.RunInterrupted.
func (e *Extension) OnRunInterrupted(ctx context.Context, r *flow.Run, pausePoint string) error {
	return e.recordRun(ctx, ActionRunInterrupted, SeverityInfo, OutcomeSuccess, r, nil,
		"pause_point", pausePoint,
	)
}

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, r *flow.Run, elapsed time.Duration) error {
	return e.recordRun(ctx, ActionRunCompleted, SeverityInfo, OutcomeSuccess, r, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *flow.Run, runErr error) error {
	return e.recordRun(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure, r, runErr)
}

// OnRunCancelled implements ext.RunCancelled.
func (e *Extension) OnRunCancelled(ctx context.Context, r *flow.Run) error {
	return e.recordRun(ctx, ActionRunCancelled, SeverityWarning, OutcomeSuccess, r, nil)
}

// ── Reaper hooks ────────────────────────────────────

// OnSweepCompleted implements ext.SweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, sweeper string, removed int64) error {
	if removed == 0 && !e.emptySweeps {
		return nil
	}
	return e.record(ctx, ActionSweepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceSweeper, sweeper, CategorySweep, nil,
		"removed", removed,
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordRun(ctx context.Context, action, severity, outcome string, r *flow.Run, err error, kvPairs ...any) error {
	kv := append([]any{
		"namespace", r.Namespace,
		"flow_type", r.Type,
		"version", r.Version,
		"status", string(r.Status),
	}, kvPairs...)
	if owner := r.Owner(); owner != "" {
		kv = append(kv, "owner_id", owner)
	}
	return e.record(ctx, action, severity, outcome, ResourceRun, r.ID.String(), CategoryRun, err, kv...)
}

// record builds and sends an audit event if the action is enabled.
// kvPairs is a list of key-value pairs added to Metadata. Recorder
// failures are logged and never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		Actor:      scope.Request(ctx).Subject,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
