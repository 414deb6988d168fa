package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/backoff"
	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/ext"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/longterm"
	mw "github.com/xraph/graflow/middleware"
	"github.com/xraph/graflow/observability"
	"github.com/xraph/graflow/policy"
	"github.com/xraph/graflow/reaper"
	"github.com/xraph/graflow/scope"
	"github.com/xraph/graflow/store"
)

// Engine wraps a Graflow with typed subsystem access.
// Use Build() to create one.
type Engine struct {
	g          *graflow.Graflow
	store      store.Store
	extensions *ext.Registry
	catalog    *policy.Catalog
	throttle   *policy.Throttle
	registry   *flowtype.Registry
	flows      *flow.Service
	cache      *cache.Cache
	saver      *checkpoint.Saver
	longterm   *longterm.Service
	reaper     *reaper.Reaper
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	prom *prometheus.Registry

	// Optional overrides for the shared-memory components.
	cacheStore    cache.Store
	longtermStore longterm.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware to the invocation chain. It runs
// inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the strategy the reaper retries failed sweeps with.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithPrometheusRegistry sets the registry the lifecycle metrics extension
// registers into. If not set, each engine gets its own registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(eng *Engine) {
		eng.prom = reg
	}
}

// WithCatalog replaces the policy catalog.
func WithCatalog(c *policy.Catalog) Option {
	return func(eng *Engine) {
		eng.catalog = c
	}
}

// WithCacheStore stores node results in cs instead of the primary store,
// e.g. a Redis store shared by several engines.
func WithCacheStore(cs cache.Store) Option {
	return func(eng *Engine) {
		eng.cacheStore = cs
	}
}

// WithLongtermStore keeps long-term items in ls instead of the primary
// store.
func WithLongtermStore(ls longterm.Store) Option {
	return func(eng *Engine) {
		eng.longtermStore = ls
	}
}

// Build creates an Engine from an existing Graflow.
// The Graflow's store must implement store.Store.
func Build(g *graflow.Graflow, opts ...Option) (*Engine, error) {
	logger := g.Logger()
	config := g.Config()

	if g.Store() == nil {
		return nil, graflow.ErrNoStore
	}
	s, ok := g.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("graflow: store does not implement store.Store")
	}

	eng := &Engine{
		g:          g,
		store:      s,
		extensions: ext.NewRegistry(logger),
		catalog:    policy.NewCatalog(),
		throttle:   policy.NewThrottle(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.prom == nil {
		eng.prom = prometheus.NewRegistry()
	}

	if config.CreationRate != "" {
		if err := eng.catalog.SetRate(policy.ScopeFlowCreation, config.CreationRate); err != nil {
			return nil, err
		}
	}
	if config.ResumeRate != "" {
		if err := eng.catalog.SetRate(policy.ScopeFlowResume, config.ResumeRate); err != nil {
			return nil, err
		}
	}

	if eng.cacheStore == nil {
		eng.cacheStore = s
	}
	if eng.longtermStore == nil {
		eng.longtermStore = s
	}

	// Storage components handed to executables.
	eng.cache = cache.New(eng.cacheStore, cache.WithLogger(logger))
	eng.saver = checkpoint.NewSaver(s)
	eng.longterm = longterm.NewService(eng.longtermStore,
		longterm.WithRefreshOnRead(config.StoreRefreshOnRead),
		longterm.WithLogger(logger),
	)

	eng.registry = flowtype.NewRegistry(s,
		flowtype.WithCatalog(eng.catalog),
		flowtype.WithComponents(eng.cache, eng.saver, eng.longterm),
		flowtype.WithNodeCacheTTL(config.NodeCacheTTL),
		flowtype.WithRequireAuthentication(config.RequireAuthentication),
		flowtype.WithLogger(logger),
	)

	// Register the Prometheus lifecycle metrics extension.
	eng.extensions.Register(observability.NewMetricsExtensionWithRegisterer(eng.prom))

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/graflow"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/graflow"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → scope.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.flows = flow.NewService(s, eng.registry,
		flow.WithEmitter(eng.extensions),
		flow.WithMiddleware(allMws...),
		flow.WithRecursionLimit(config.RecursionLimit),
		flow.WithLogger(logger),
	)

	// The reaper is disabled by an empty schedule.
	if config.SweepSchedule != "" {
		r, err := reaper.New(config.SweepSchedule,
			[]reaper.Sweeper{reaper.CacheSweeper(eng.cache), reaper.StoreSweeper(eng.longterm)},
			reaper.WithEmitter(eng.extensions),
			reaper.WithBackoff(eng.bo, 3),
			reaper.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		eng.reaper = r
		g.SetReaper(r)
	}

	// Wire back into the Graflow.
	g.SetExtensions(eng.extensions)

	return eng, nil
}

// Start runs migrations and starts the reaper.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return eng.g.Start(ctx)
}

// Stop stops the reaper, notifies extensions and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.g.Stop(ctx)
}

// Graflow returns the underlying Graflow.
func (eng *Engine) Graflow() *graflow.Graflow { return eng.g }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the flow type registry.
func (eng *Engine) Registry() *flowtype.Registry { return eng.registry }

// Flows returns the run service.
func (eng *Engine) Flows() *flow.Service { return eng.flows }

// Cache returns the result cache.
func (eng *Engine) Cache() *cache.Cache { return eng.cache }

// Checkpoints returns the checkpoint saver.
func (eng *Engine) Checkpoints() *checkpoint.Saver { return eng.saver }

// Longterm returns the long-term store service.
func (eng *Engine) Longterm() *longterm.Service { return eng.longterm }

// Reaper returns the TTL reaper, or nil when sweeping is disabled.
func (eng *Engine) Reaper() *reaper.Reaper { return eng.reaper }

// Metrics returns the Prometheus registry holding lifecycle metrics.
func (eng *Engine) Metrics() *prometheus.Registry { return eng.prom }

// ──────────────────────────────────────────────────
// Guarded operations
// ──────────────────────────────────────────────────

// Authorize checks the caller on ctx against capability c of ft. A nil run
// checks collection-level access. Denials wrap graflow.ErrForbidden and
// exhausted rate limits wrap graflow.ErrThrottled.
func (eng *Engine) Authorize(ctx context.Context, ft *flowtype.FlowType, c flowtype.Capability, run *flow.Run) error {
	req := scope.Request(ctx)
	var target *policy.Target
	if run != nil {
		target = &policy.Target{OwnerID: run.Owner(), Namespace: run.Namespace, Type: run.Type}
	}
	if !eng.registry.Authorizer(ft, c).Allows(req, target) {
		return fmt.Errorf("%w: %s on %s", graflow.ErrForbidden, c, ft.Key())
	}
	if rl := eng.registry.RateLimit(ft, c); rl != nil && !eng.throttle.Allow(*rl, req.Subject) {
		return fmt.Errorf("%w: %s (%s)", graflow.ErrThrottled, rl.Scope, rl.Rate)
	}
	return nil
}

// CreateRun authorizes and creates a run, then executes it up to its first
// pause, submitting initial when the run paused.
func (eng *Engine) CreateRun(ctx context.Context, p flow.CreateParams, initial map[string]any) (*flow.Result, error) {
	var ft *flowtype.FlowType
	var err error
	if p.Version == "" {
		ft, err = eng.registry.GetLatest(ctx, p.Namespace, p.Type)
	} else {
		ft, err = eng.registry.Get(ctx, p.Namespace, p.Type, p.Version)
	}
	if err != nil {
		return nil, err
	}
	if err := eng.Authorize(ctx, ft, flowtype.CapabilityMutate, nil); err != nil {
		return nil, err
	}
	p.Version = ft.Version
	return eng.flows.Start(ctx, p, initial)
}

// SubmitRun authorizes and resumes a run with validated data.
func (eng *Engine) SubmitRun(ctx context.Context, runID id.FlowID, raw map[string]any) (*flow.Result, error) {
	if _, err := eng.guard(ctx, runID, flowtype.CapabilityResume); err != nil {
		return nil, err
	}
	return eng.flows.Submit(ctx, runID, raw)
}

// RunState authorizes and inspects a run.
func (eng *Engine) RunState(ctx context.Context, runID id.FlowID) (*flow.Inspection, error) {
	if _, err := eng.guard(ctx, runID, flowtype.CapabilityResume); err != nil {
		return nil, err
	}
	return eng.flows.Inspect(ctx, runID)
}

// CancelRun authorizes and cancels a run.
func (eng *Engine) CancelRun(ctx context.Context, runID id.FlowID) (*flow.Run, error) {
	if _, err := eng.guard(ctx, runID, flowtype.CapabilityMutate); err != nil {
		return nil, err
	}
	return eng.flows.Cancel(ctx, runID)
}

// DeleteRun authorizes and soft-deletes a run.
func (eng *Engine) DeleteRun(ctx context.Context, runID id.FlowID) error {
	if _, err := eng.guard(ctx, runID, flowtype.CapabilityMutate); err != nil {
		return err
	}
	return eng.flows.MarkCancelled(ctx, runID)
}

func (eng *Engine) guard(ctx context.Context, runID id.FlowID, c flowtype.Capability) (*flow.Run, error) {
	run, err := eng.flows.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	ft, err := eng.registry.Get(ctx, run.Namespace, run.Type, run.Version)
	if err != nil {
		if errors.Is(err, graflow.ErrFlowTypeNotFound) {
			return nil, &flowtype.ConfigurationError{Key: run.RunName(), Action: "loading flow type", Err: err}
		}
		return nil, err
	}
	return run, eng.Authorize(ctx, ft, c, run)
}
