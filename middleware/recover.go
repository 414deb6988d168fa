package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/graflow/flow"
)

// Recover returns middleware that recovers from panics in node code.
// Panics are converted to errors and logged with a stack trace, so the
// run is marked failed instead of taking the process down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *flow.Run, next Handler) (retErr error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("flow invocation panicked",
					slog.String("flow_id", r.ID.String()),
					slog.String("run_name", r.RunName()),
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in flow %s: %v", r.RunName(), p)
			}
		}()
		return next(ctx)
	}
}
