// Package engine wires the graflow subsystems together: the flow type
// registry, the run service, the storage components handed to executables,
// the extension registry, the invocation middleware and the TTL reaper.
//
// The engine package exists to break an import cycle: the root graflow
// package defines the configuration and sentinel errors imported by every
// subsystem and therefore cannot import them back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	g, err := graflow.New(
//	    graflow.WithStore(sqliteStore),
//	    graflow.WithSweepSchedule("@every 5m"),
//	)
//
//	eng, err := engine.Build(g,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Timeout(30*time.Second)),
//	)
//
//	demo.Register(eng.Registry())
//	err = eng.Registry().Sync(ctx, demo.Definitions())
//
// # Running flows
//
// The guarded operations check the caller on ctx (see package scope)
// against the flow type's authorization and rate-limit policies before
// delegating to the run service:
//
//	ctx = scope.WithRequest(ctx, policy.Request{Subject: "alice", Authenticated: true})
//	res, err := eng.CreateRun(ctx, flow.CreateParams{Namespace: "demo", Type: "interactive_demo"}, nil)
//	res, err = eng.SubmitRun(ctx, res.Run.ID, map[string]any{"topic": "onboarding"})
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] appends a middleware to the invocation chain
//   - [WithBackoff] sets the reaper retry strategy
//   - [WithTracerProvider] sets the OpenTelemetry tracer provider
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
//   - [WithPrometheusRegistry] sets the registry lifecycle metrics go to
//   - [WithCatalog] replaces the policy catalog
//   - [WithCacheStore] and [WithLongtermStore] move shared memory off the primary store
package engine
