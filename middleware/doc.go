// Package middleware provides composable middleware around flow engine
// invocations.
//
// A [Middleware] wraps the engine call the flow service makes for a run
// on every resume. Middleware are composed with [Chain] and installed with
// flow.WithMiddleware. The first middleware in the list is the outermost
// wrapper.
//
//	// logging → recover → handler
//	svc := flow.NewService(store, registry, flow.WithMiddleware(
//	    middleware.Logging(logger), middleware.Recover(logger),
//	))
//
// # Built-in Middleware
//
//   - [Logging] — logs run identity, duration and outcome of each invocation
//   - [Recover] — catches panics in node code and converts them to errors
//   - [Timeout] — bounds each invocation with a deadline
//   - [Tracing] — wraps each invocation in an OpenTelemetry span
//   - [Metrics] — records invocation duration and outcome counters
//   - [Scope] — restores the run owner's identity into the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, r *flow.Run, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
