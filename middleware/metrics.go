package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/graflow/flow"
)

// meterName is the instrumentation scope name for graflow metrics.
const meterName = "github.com/xraph/graflow"

// Metrics returns middleware that records per-invocation metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - graflow.flow.invoke.duration (Float64Histogram): seconds, with
//     attributes run_name and status ("ok" or "error")
//   - graflow.flow.invocations (Int64Counter): with the same attributes
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"graflow.flow.invoke.duration",
		metric.WithDescription("Duration of flow engine invocations in seconds"),
		metric.WithUnit("s"),
	)
	invocations, _ := meter.Int64Counter(
		"graflow.flow.invocations",
		metric.WithDescription("Total number of flow engine invocations"),
		metric.WithUnit("{invocation}"),
	)

	return func(ctx context.Context, r *flow.Run, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("run_name", r.RunName()),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		invocations.Add(ctx, 1, attrs)
		return err
	}
}
