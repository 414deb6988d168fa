package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/graflow/ext"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/observability"
)

const runName = "demo_interactive_demo_v1"

func newTestExtension() *observability.MetricsExtension {
	return observability.NewMetricsExtensionWithRegisterer(prometheus.NewRegistry())
}

func newTestRun() *flow.Run {
	return &flow.Run{ID: id.NewFlowID(), Namespace: "demo", Type: "interactive_demo", Version: "v1"}
}

func TestMetricsExtension_Name(t *testing.T) {
	if got := newTestExtension().Name(); got != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", got)
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	ctx := context.Background()
	run := newTestRun()

	tests := []struct {
		name    string
		fire    func(e *observability.MetricsExtension) error
		counter func(e *observability.MetricsExtension) prometheus.Collector
	}{
		{
			name:    "created",
			fire:    func(e *observability.MetricsExtension) error { return e.OnRunCreated(ctx, run) },
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.RunsCreated.WithLabelValues(runName) },
		},
		{
			name:    "resumed",
			fire:    func(e *observability.MetricsExtension) error { return e.OnRunResumed(ctx, run) },
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.RunsResumed.WithLabelValues(runName) },
		},
		{
			name: "interrupted",
			fire: func(e *observability.MetricsExtension) error { return e.OnRunInterrupted(ctx, run, "request_topic") },
			counter: func(e *observability.MetricsExtension) prometheus.Collector {
				return e.RunsInterrupted.WithLabelValues(runName, "request_topic")
			},
		},
		{
			name:    "completed",
			fire:    func(e *observability.MetricsExtension) error { return e.OnRunCompleted(ctx, run, time.Second) },
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.RunsCompleted.WithLabelValues(runName) },
		},
		{
			name:    "failed",
			fire:    func(e *observability.MetricsExtension) error { return e.OnRunFailed(ctx, run, errors.New("boom")) },
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.RunsFailed.WithLabelValues(runName) },
		},
		{
			name:    "cancelled",
			fire:    func(e *observability.MetricsExtension) error { return e.OnRunCancelled(ctx, run) },
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.RunsCancelled.WithLabelValues(runName) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := testutil.ToFloat64(tt.counter(e)); got != 1 {
				t.Errorf("want 1, got %v", got)
			}
		})
	}
}

func TestMetricsExtension_Sweep(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()
	_ = e.OnSweepCompleted(ctx, "cache", 3)
	_ = e.OnSweepCompleted(ctx, "cache", 2)

	if got := testutil.ToFloat64(e.SweepRemoved.WithLabelValues("cache")); got != 5 {
		t.Errorf("SweepRemoved: want 5, got %v", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := observability.NewMetricsExtensionWithRegisterer(reg)

	r := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Register(e)

	ctx := context.Background()
	run := newTestRun()
	r.EmitRunCreated(ctx, run)
	r.EmitRunResumed(ctx, run)
	r.EmitRunInterrupted(ctx, run, "collect_feedback")
	r.EmitRunResumed(ctx, run)
	r.EmitRunCompleted(ctx, run, 50*time.Millisecond)

	if got := testutil.ToFloat64(e.RunsResumed.WithLabelValues(runName)); got != 2 {
		t.Errorf("RunsResumed: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(e.RunsCompleted.WithLabelValues(runName)); got != 1 {
		t.Errorf("RunsCompleted: want 1, got %v", got)
	}

	n, err := testutil.GatherAndCount(reg, "graflow_run_invocation_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 duration series, got %d", n)
	}
}
