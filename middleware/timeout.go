package middleware

import (
	"context"
	"time"

	"github.com/xraph/graflow/flow"
)

// Timeout returns middleware that cancels the invocation context after d.
// A non-positive d disables the deadline. Nodes observe the deadline
// through their context; a node that ignores it still runs to completion.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *flow.Run, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
