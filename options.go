package graflow

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Graflow instance.
type Option func(*Graflow) error

// Storer is the minimal store interface held by Graflow.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used by the engine package, which sits above the
// subsystem packages and so avoids import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// backgroundRunner is an internal interface for background loops such as
// the TTL reaper.
type backgroundRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Graflow is the central coordinator that owns the configuration, the
// logger and the persistence backend.
//
// Create one with New() and functional options, then pass it to
// engine.Build to wire the flow service, the flow type registry and the
// storage components together.
type Graflow struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	reaper     backgroundRunner

	started bool
}

// New creates a new Graflow with the given options.
func New(opts ...Option) (*Graflow, error) {
	g := &Graflow{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Logger returns the configured logger.
func (g *Graflow) Logger() *slog.Logger { return g.logger }

// Store returns the configured store.
func (g *Graflow) Store() Storer { return g.store }

// Config returns a copy of the configuration.
func (g *Graflow) Config() Config { return g.config }

// SetReaper sets the background TTL reaper (called by the engine package).
func (g *Graflow) SetReaper(r backgroundRunner) { g.reaper = r }

// SetExtensions sets the extension emitter (called by the engine package).
func (g *Graflow) SetExtensions(e extensionEmitter) { g.extensions = e }

// Start launches background work. It is a no-op when no reaper is set.
func (g *Graflow) Start(ctx context.Context) error {
	if g.store == nil {
		return ErrNoStore
	}
	if g.reaper != nil {
		if err := g.reaper.Start(ctx); err != nil {
			return err
		}
	}
	g.started = true
	return nil
}

// Stop shuts down background work, notifies extensions and closes the store.
func (g *Graflow) Stop(ctx context.Context) error {
	if g.reaper != nil && g.started {
		if err := g.reaper.Stop(ctx); err != nil {
			g.logger.Error("reaper stop error", "error", err)
		}
	}
	if g.extensions != nil {
		g.extensions.EmitShutdown(ctx)
	}
	if g.store != nil {
		return g.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(g *Graflow) error {
		g.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graflow) error {
		g.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; typically it will be a store.Store which embeds all subsystem
// store interfaces.
func WithStore(s Storer) Option {
	return func(g *Graflow) error {
		g.store = s
		return nil
	}
}

// WithRequireAuthentication selects the fallback authorization policy.
func WithRequireAuthentication(required bool) Option {
	return func(g *Graflow) error {
		g.config.RequireAuthentication = required
		return nil
	}
}

// WithRecursionLimit sets the per-invocation step limit.
func WithRecursionLimit(n int) Option {
	return func(g *Graflow) error {
		g.config.RecursionLimit = n
		return nil
	}
}

// WithNodeCacheTTL sets the default TTL for cached node results.
func WithNodeCacheTTL(d time.Duration) Option {
	return func(g *Graflow) error {
		g.config.NodeCacheTTL = d
		return nil
	}
}

// WithSweepSchedule sets the reaper cron expression. Empty disables it.
func WithSweepSchedule(expr string) Option {
	return func(g *Graflow) error {
		g.config.SweepSchedule = expr
		return nil
	}
}
