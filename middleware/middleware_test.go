package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/middleware"
	"github.com/xraph/graflow/scope"
)

func newTestRun() *flow.Run {
	owner := "alice"
	return &flow.Run{
		ID:        id.NewFlowID(),
		OwnerID:   &owner,
		Namespace: "demo",
		Type:      "interactive_demo",
		Version:   "v1",
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	mw := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *flow.Run, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(mw("mw1"), mw("mw2"))
	err := chain(context.Background(), newTestRun(), func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order = %v, want %v", order, expected)
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestRun(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *flow.Run, next middleware.Handler) error { return next(ctx) }
	want := errors.New("handler error")

	err := middleware.Chain(pass)(context.Background(), newTestRun(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	err := middleware.Recover(discard())(context.Background(), newTestRun(), func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in flow demo_interactive_demo_v1: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	called := false
	err := middleware.Recover(discard())(context.Background(), newTestRun(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("got (%v, called=%v), want (nil, true)", err, called)
	}
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{name: "success", wantLog: "flow invocation finished"},
		{name: "error", err: errors.New("fail"), wantLog: "flow invocation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			mw := middleware.Logging(slog.New(slog.NewTextHandler(&buf, nil)))

			err := mw(context.Background(), newTestRun(), func(_ context.Context) error { return tt.err })
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.wantLog) || !strings.Contains(out, "run_name=demo_interactive_demo_v1") {
				t.Fatalf("log output = %q", out)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	err := middleware.Timeout(10*time.Millisecond)(context.Background(), newTestRun(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	err = middleware.Timeout(0)(context.Background(), newTestRun(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("zero timeout set a deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_RestoresOwner(t *testing.T) {
	err := middleware.Scope()(context.Background(), newTestRun(), func(ctx context.Context) error {
		req := scope.Request(ctx)
		if req.Subject != "alice" || !req.Authenticated {
			t.Errorf("request = %+v, want authenticated alice", req)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_AnonymousRun(t *testing.T) {
	run := newTestRun()
	run.OwnerID = nil

	err := middleware.Scope()(context.Background(), run, func(ctx context.Context) error {
		if scope.Capture(ctx) != "" {
			t.Fatal("anonymous run restored an identity")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
