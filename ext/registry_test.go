package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/graflow/ext"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	name  string
	calls []string
}

func (e *allHooksExt) Name() string { return e.name }

func (e *allHooksExt) OnRunCreated(_ context.Context, _ *flow.Run) error {
	e.calls = append(e.calls, "OnRunCreated")
	return nil
}

func (e *allHooksExt) OnRunResumed(_ context.Context, _ *flow.Run) error {
	e.calls = append(e.calls, "OnRunResumed")
	return nil
}

func (e *allHooksExt) OnRunInterrupted(_ context.Context, _ *flow.Run, pausePoint string) error {
	e.calls = append(e.calls, "OnRunInterrupted:"+pausePoint)
	return nil
}

func (e *allHooksExt) OnRunCompleted(_ context.Context, _ *flow.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunCompleted")
	return nil
}

func (e *allHooksExt) OnRunFailed(_ context.Context, _ *flow.Run, _ error) error {
	e.calls = append(e.calls, "OnRunFailed")
	return nil
}

func (e *allHooksExt) OnRunCancelled(_ context.Context, _ *flow.Run) error {
	e.calls = append(e.calls, "OnRunCancelled")
	return nil
}

func (e *allHooksExt) OnSweepCompleted(_ context.Context, sweeper string, _ int64) error {
	e.calls = append(e.calls, "OnSweepCompleted:"+sweeper)
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// createdOnlyExt only implements RunCreated.
type createdOnlyExt struct {
	calls int
}

func (e *createdOnlyExt) Name() string { return "created-only" }

func (e *createdOnlyExt) OnRunCreated(_ context.Context, _ *flow.Run) error {
	e.calls++
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnRunCreated(_ context.Context, _ *flow.Run) error {
	return errors.New("boom")
}

func newRun() *flow.Run {
	return &flow.Run{ID: id.NewFlowID(), Namespace: "demo", Type: "chat", Version: "v1"}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_Register(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{name: "all"})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all" {
		t.Fatalf("expected name 'all', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{name: "all"}
	created := &createdOnlyExt{}
	r.Register(all)
	r.Register(created)

	ctx := context.Background()
	run := newRun()

	r.EmitRunCreated(ctx, run)
	r.EmitRunResumed(ctx, run)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls, got %v", all.calls)
	}
	if created.calls != 1 {
		t.Fatalf("created-only: expected 1 call, got %d", created.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{name: "all"}
	r.Register(all)

	ctx := context.Background()
	run := newRun()

	r.EmitRunCreated(ctx, run)
	r.EmitRunResumed(ctx, run)
	r.EmitRunInterrupted(ctx, run, "request_topic")
	r.EmitRunCompleted(ctx, run, time.Second)
	r.EmitRunFailed(ctx, run, errors.New("fail"))
	r.EmitRunCancelled(ctx, run)
	r.EmitSweepCompleted(ctx, "cache", 3)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnRunCreated", "OnRunResumed", "OnRunInterrupted:request_topic",
		"OnRunCompleted", "OnRunFailed", "OnRunCancelled",
		"OnSweepCompleted:cache", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf strings.Builder
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	all := &allHooksExt{name: "all"}
	r.Register(&failingExt{})
	r.Register(all)

	r.EmitRunCreated(context.Background(), newRun())

	if len(all.calls) != 1 {
		t.Fatalf("all: expected 1 call despite failing ext, got %v", all.calls)
	}
	if !strings.Contains(buf.String(), "extension=failing") || !strings.Contains(buf.String(), "hook=OnRunCreated") {
		t.Fatalf("hook error not logged: %q", buf.String())
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	run := newRun()

	r.EmitRunCreated(ctx, run)
	r.EmitRunResumed(ctx, run)
	r.EmitRunInterrupted(ctx, run, "x")
	r.EmitRunCompleted(ctx, run, time.Second)
	r.EmitRunFailed(ctx, run, errors.New("x"))
	r.EmitRunCancelled(ctx, run)
	r.EmitSweepCompleted(ctx, "x", 0)
	r.EmitShutdown(ctx)
}

func TestRegistry_OrderPreserved(t *testing.T) {
	var order []string
	r := ext.NewRegistry(slog.Default())
	for _, name := range []string{"first", "second", "third"} {
		r.Register(orderExt{name: name, order: &order})
	}

	r.EmitRunCompleted(context.Background(), newRun(), time.Millisecond)

	if strings.Join(order, ",") != "first,second,third" {
		t.Fatalf("order = %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e orderExt) Name() string { return e.name }

func (e orderExt) OnRunCompleted(_ context.Context, _ *flow.Run, _ time.Duration) error {
	*e.order = append(*e.order, e.name)
	return nil
}
