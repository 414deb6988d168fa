package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/graflow/flow"
)

// Logging returns middleware that logs invocation start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *flow.Run, next Handler) error {
		logger.Info("flow invocation started",
			slog.String("flow_id", r.ID.String()),
			slog.String("run_name", r.RunName()),
			slog.String("owner", r.Owner()),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("flow invocation failed",
				slog.String("flow_id", r.ID.String()),
				slog.String("run_name", r.RunName()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("flow invocation finished",
				slog.String("flow_id", r.ID.String()),
				slog.String("run_name", r.RunName()),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
