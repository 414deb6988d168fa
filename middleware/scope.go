package middleware

import (
	"context"

	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/scope"
)

// Scope returns middleware that restores the run owner's identity into the
// context, so node code sees the same caller that created the run even
// when a different one resumes it.
func Scope() Middleware {
	return func(ctx context.Context, r *flow.Run, next Handler) error {
		return next(scope.Restore(ctx, r.Owner()))
	}
}
