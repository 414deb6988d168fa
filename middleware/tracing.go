package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/graflow/flow"
)

// tracerName is the instrumentation scope name for graflow tracing.
const tracerName = "github.com/xraph/graflow"

// Tracing returns middleware that wraps each invocation in an
// OpenTelemetry span using the global TracerProvider.
//
// Span attributes include: graflow.flow.id, graflow.flow.namespace,
// graflow.flow.type, graflow.flow.version and graflow.owner.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *flow.Run, next Handler) error {
		ctx, span := tracer.Start(ctx, "graflow.flow.invoke",
			trace.WithAttributes(
				attribute.String("graflow.flow.id", r.ID.String()),
				attribute.String("graflow.flow.namespace", r.Namespace),
				attribute.String("graflow.flow.type", r.Type),
				attribute.String("graflow.flow.version", r.Version),
				attribute.String("graflow.owner", r.Owner()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
