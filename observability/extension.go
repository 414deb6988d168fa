package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xraph/graflow/ext"
	"github.com/xraph/graflow/flow"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.RunCreated     = (*MetricsExtension)(nil)
	_ ext.RunResumed     = (*MetricsExtension)(nil)
	_ ext.RunInterrupted = (*MetricsExtension)(nil)
	_ ext.RunCompleted   = (*MetricsExtension)(nil)
	_ ext.RunFailed      = (*MetricsExtension)(nil)
	_ ext.RunCancelled   = (*MetricsExtension)(nil)
	_ ext.SweepCompleted = (*MetricsExtension)(nil)
)

// namespace prefixes every metric name.
const namespace = "graflow"

// MetricsExtension records lifecycle metrics into a Prometheus registry.
// Run counters are labelled with the run name
// ("namespace_type_version").
type MetricsExtension struct {
	RunsCreated     *prometheus.CounterVec
	RunsResumed     *prometheus.CounterVec
	RunsInterrupted *prometheus.CounterVec
	RunsCompleted   *prometheus.CounterVec
	RunsFailed      *prometheus.CounterVec
	RunsCancelled   *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	SweepRemoved    *prometheus.CounterVec
}

// NewMetricsExtension registers the metrics with the default registerer.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsExtensionWithRegisterer registers the metrics with reg.
func NewMetricsExtensionWithRegisterer(reg prometheus.Registerer) *MetricsExtension {
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &MetricsExtension{
		RunsCreated:     counter("runs_created_total", "Runs created.", "run_name"),
		RunsResumed:     counter("runs_resumed_total", "Runs claimed for execution.", "run_name"),
		RunsInterrupted: counter("runs_interrupted_total", "Runs paused for input.", "run_name", "pause_point"),
		RunsCompleted:   counter("runs_completed_total", "Runs finished.", "run_name"),
		RunsFailed:      counter("runs_failed_total", "Runs failed during execution.", "run_name"),
		RunsCancelled:   counter("runs_cancelled_total", "Runs cancelled or deleted.", "run_name"),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_invocation_duration_seconds",
			Help:      "Duration of completed run invocations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"run_name"}),
		SweepRemoved: counter("sweep_removed_total", "Rows removed by reaper sweeps.", "sweeper"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunCreated implements ext.RunCreated.
func (m *MetricsExtension) OnRunCreated(_ context.Context, r *flow.Run) error {
	m.RunsCreated.WithLabelValues(r.RunName()).Inc()
	return nil
}

// OnRunResumed implements ext.RunResumed.
func (m *MetricsExtension) OnRunResumed(_ context.Context, r *flow.Run) error {
	m.RunsResumed.WithLabelValues(r.RunName()).Inc()
	return nil
}

// OnRunInterrupted implements ext.RunInterrupted.
func (m *MetricsExtension) OnRunInterrupted(_ context.Context, r *flow.Run, pausePoint string) error {
	m.RunsInterrupted.WithLabelValues(r.RunName(), pausePoint).Inc()
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(_ context.Context, r *flow.Run, elapsed time.Duration) error {
	m.RunsCompleted.WithLabelValues(r.RunName()).Inc()
	m.RunDuration.WithLabelValues(r.RunName()).Observe(elapsed.Seconds())
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(_ context.Context, r *flow.Run, _ error) error {
	m.RunsFailed.WithLabelValues(r.RunName()).Inc()
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(_ context.Context, r *flow.Run) error {
	m.RunsCancelled.WithLabelValues(r.RunName()).Inc()
	return nil
}

// ── Reaper hooks ────────────────────────────────────

// OnSweepCompleted implements ext.SweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, sweeper string, removed int64) error {
	m.SweepRemoved.WithLabelValues(sweeper).Add(float64(removed))
	return nil
}
