package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/graflow"
	ah "github.com/xraph/graflow/audit_hook"
	"github.com/xraph/graflow/engine"
	"github.com/xraph/graflow/ext"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flows/demo"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/policy"
	"github.com/xraph/graflow/scope"
	"github.com/xraph/graflow/store/memory"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, evt := range m.events {
		out[i] = evt.Action
	}
	return out
}

// ── Test helpers ─────────────────────────────────────

func testRun() *flow.Run {
	owner := "alice"
	return &flow.Run{
		ID:        id.NewFlowID(),
		OwnerID:   &owner,
		Namespace: "demo",
		Type:      "interactive_demo",
		Version:   "v1",
		Status:    flow.StatusInterrupted,
	}
}

func asAlice() context.Context {
	return scope.WithRequest(context.Background(), policy.Request{Subject: "alice", Authenticated: true})
}

// ── Hook tests ───────────────────────────────────────

func TestExtension_ImplementsHooks(t *testing.T) {
	var e ext.Extension = ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Fatalf("Name() = %q", e.Name())
	}
	if _, ok := e.(ext.RunFailed); !ok {
		t.Fatal("extension does not implement ext.RunFailed")
	}
}

func TestOnRunInterrupted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	run := testRun()

	if err := e.OnRunInterrupted(asAlice(), run, "request_topic"); err != nil {
		t.Fatalf("OnRunInterrupted: %v", err)
	}

	evt := rec.findByAction(ah.ActionRunInterrupted)
	if evt == nil {
		t.Fatal("no run.interrupted event recorded")
	}
	if evt.ResourceID != run.ID.String() || evt.Resource != ah.ResourceRun {
		t.Errorf("resource = %s/%s, want %s/%s", evt.Resource, evt.ResourceID, ah.ResourceRun, run.ID)
	}
	if evt.Actor != "alice" {
		t.Errorf("Actor = %q, want alice", evt.Actor)
	}
	if evt.Metadata["pause_point"] != "request_topic" {
		t.Errorf("pause_point = %v", evt.Metadata["pause_point"])
	}
	if evt.Metadata["owner_id"] != "alice" || evt.Metadata["flow_type"] != "interactive_demo" {
		t.Errorf("metadata = %v", evt.Metadata)
	}
	if evt.Category != ah.CategoryRun || evt.Severity != ah.SeverityInfo {
		t.Errorf("category/severity = %s/%s", evt.Category, evt.Severity)
	}
}

func TestOnRunFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnRunFailed(context.Background(), testRun(), errors.New("node exploded")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	evt := rec.findByAction(ah.ActionRunFailed)
	if evt == nil {
		t.Fatal("no run.failed event recorded")
	}
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("severity/outcome = %s/%s", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "node exploded" || evt.Metadata["error"] != "node exploded" {
		t.Errorf("reason = %q, metadata error = %v", evt.Reason, evt.Metadata["error"])
	}
	if evt.Actor != "" {
		t.Errorf("Actor = %q, want empty for background context", evt.Actor)
	}
}

func TestOnRunCompleted_Elapsed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	_ = e.OnRunCompleted(context.Background(), testRun(), 1500*time.Millisecond)

	evt := rec.findByAction(ah.ActionRunCompleted)
	if evt == nil {
		t.Fatal("no run.completed event recorded")
	}
	if evt.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("elapsed_ms = %#v, want 1500", evt.Metadata["elapsed_ms"])
	}
}

func TestOnSweepCompleted_SkipsEmptySweeps(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()

	_ = e.OnSweepCompleted(ctx, "cache", 0)
	if rec.count() != 0 {
		t.Fatalf("empty sweep recorded: %v", rec.actions())
	}

	_ = e.OnSweepCompleted(ctx, "cache", 4)
	evt := rec.findByAction(ah.ActionSweepCompleted)
	if evt == nil || evt.ResourceID != "cache" || evt.Metadata["removed"] != int64(4) {
		t.Fatalf("sweep event = %+v", evt)
	}

	all := &mockRecorder{}
	_ = ah.New(all, ah.WithSweeps(true)).OnSweepCompleted(ctx, "store", 0)
	if all.count() != 1 {
		t.Fatalf("WithSweeps(true): got %d events, want 1", all.count())
	}
}

// ── Filtering ────────────────────────────────────────

func TestWithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionRunFailed))
	ctx := context.Background()
	run := testRun()

	_ = e.OnRunCreated(ctx, run)
	_ = e.OnRunResumed(ctx, run)
	_ = e.OnRunCancelled(ctx, run)
	_ = e.OnRunFailed(ctx, run, errors.New("x"))

	if got := rec.actions(); len(got) != 1 || got[0] != ah.ActionRunFailed {
		t.Fatalf("actions = %v, want [run.failed]", got)
	}
}

func TestAllActions(t *testing.T) {
	seen := make(map[string]bool)
	for _, a := range ah.AllActions() {
		if seen[a] {
			t.Fatalf("duplicate action %q", a)
		}
		seen[a] = true
	}
	if len(seen) != 7 {
		t.Fatalf("AllActions() has %d entries, want 7", len(seen))
	}
}

// ── Error handling ───────────────────────────────────

func TestRecorderErrorLogged(t *testing.T) {
	var buf strings.Builder
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})
	e := ah.New(failing, ah.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if err := e.OnRunCreated(context.Background(), testRun()); err != nil {
		t.Fatalf("hook returned %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "backend down") {
		t.Fatalf("recorder error not logged: %q", buf.String())
	}
}

// ── Engine wiring ────────────────────────────────────

func TestEngineEmitsAuditEvents(t *testing.T) {
	rec := &mockRecorder{}
	g, err := graflow.New(
		graflow.WithStore(memory.New()),
		graflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("graflow.New: %v", err)
	}
	eng, err := engine.Build(g, engine.WithExtension(ah.New(rec)))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	demo.Register(eng.Registry())
	ctx := asAlice()
	if err := eng.Registry().Sync(ctx, demo.Definitions()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	res, err := eng.CreateRun(ctx, flow.CreateParams{Namespace: demo.Namespace, Type: demo.HelloWorld, OwnerID: "alice"}, nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if res.Run.Status != flow.StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Run.Status)
	}

	got := rec.actions()
	if len(got) < 2 || got[0] != ah.ActionRunCreated || got[len(got)-1] != ah.ActionRunCompleted {
		t.Fatalf("actions = %v, want run.created first and run.completed last", got)
	}
	if evt := rec.findByAction(ah.ActionRunCompleted); evt.Actor != "alice" {
		t.Fatalf("completed actor = %q, want alice", evt.Actor)
	}
}
