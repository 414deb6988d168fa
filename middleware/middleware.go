package middleware

import (
	"context"

	"github.com/xraph/graflow/flow"
)

// Handler is the engine invocation being wrapped.
type Handler = flow.Handler

// Middleware wraps a Handler with cross-cutting logic. It receives the run
// being executed and the next handler to call.
type Middleware = flow.Middleware

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, r *flow.Run, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, r, prev)
			}
		}
		return h(ctx)
	}
}
