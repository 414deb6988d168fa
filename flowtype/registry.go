package flowtype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/longterm"
	"github.com/xraph/graflow/policy"
	"github.com/xraph/graflow/schema"
)

// Capability is a guarded operation on runs.
type Capability string

const (
	// CapabilityMutate covers creating, listing, cancelling and deleting.
	CapabilityMutate Capability = "mutate"
	// CapabilityResume covers resuming and reading state.
	CapabilityResume Capability = "resume"
)

// Components are the storage collaborators handed to executable factories.
type Components struct {
	Cache        *cache.Cache
	Checkpoints  *checkpoint.Saver
	Store        *longterm.Service
	RunName      string
	NodeCacheTTL time.Duration
	Logger       *slog.Logger
}

// ExecutableFactory builds a compiled flow bound to c.
type ExecutableFactory func(c Components) (flow.Executable, error)

// Registry resolves flow types to executables, schemas and policies.
type Registry struct {
	store       Store
	catalog     *policy.Catalog
	cache       *cache.Cache
	saver       *checkpoint.Saver
	longterm    *longterm.Service
	cacheTTL    time.Duration
	requireAuth bool
	logger      *slog.Logger

	mu          sync.RWMutex
	executables map[string]ExecutableFactory
	schemas     map[string]schema.Schema
	built       map[string]flow.Executable
	group       singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalog sets the policy catalog.
func WithCatalog(c *policy.Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithComponents sets the storage components wired into executables.
func WithComponents(c *cache.Cache, saver *checkpoint.Saver, lt *longterm.Service) Option {
	return func(r *Registry) {
		r.cache = c
		r.saver = saver
		r.longterm = lt
	}
}

// WithNodeCacheTTL sets the default TTL of cached node results.
func WithNodeCacheTTL(d time.Duration) Option {
	return func(r *Registry) { r.cacheTTL = d }
}

// WithRequireAuthentication selects the fallback authorizer used when a
// policy name cannot be resolved.
func WithRequireAuthentication(required bool) Option {
	return func(r *Registry) { r.requireAuth = required }
}

// WithLogger sets the logger for the registry.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns a Registry over store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		catalog:     policy.NewCatalog(),
		cacheTTL:    time.Hour,
		requireAuth: true,
		logger:      slog.Default(),
		executables: make(map[string]ExecutableFactory),
		schemas:     make(map[string]schema.Schema),
		built:       make(map[string]flow.Executable),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ flow.Resolver = (*Registry)(nil)

// Catalog returns the policy catalog.
func (r *Registry) Catalog() *policy.Catalog { return r.catalog }

// ──────────────────────────────────────────────────
// Factories
// ──────────────────────────────────────────────────

// RegisterExecutable binds a factory name. Re-registering a name drops
// executables built from the previous factory.
func (r *Registry) RegisterExecutable(name string, f ExecutableFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executables[name] = f
	r.built = make(map[string]flow.Executable)
}

// RegisterSchema binds a schema name.
func (r *Registry) RegisterSchema(name string, s schema.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = s
}

// Executables returns the registered factory names, sorted.
func (r *Registry) Executables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executables))
	for n := range r.executables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

// Register persists a new flow type version.
func (r *Registry) Register(ctx context.Context, ft *FlowType) error {
	now := time.Now().UTC()
	if ft.ID.IsNil() {
		ft.ID = id.NewFlowTypeID()
	}
	if ft.CreatedAt.IsZero() {
		ft.CreatedAt = now
	}
	ft.UpdatedAt = now
	if err := r.store.CreateFlowType(ctx, ft); err != nil {
		return err
	}
	r.logger.Info("flow type registered",
		slog.String("flow_type", ft.Key()),
		slog.Bool("latest", ft.IsLatest),
	)
	return nil
}

// Get returns one version.
func (r *Registry) Get(ctx context.Context, namespace, flowType, version string) (*FlowType, error) {
	return r.store.GetFlowType(ctx, namespace, flowType, version)
}

// GetLatest returns the active latest version or graflow.ErrFlowTypeNotFound.
func (r *Registry) GetLatest(ctx context.Context, namespace, flowType string) (*FlowType, error) {
	return r.store.GetLatestFlowType(ctx, namespace, flowType)
}

// List returns versions matching opts.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*FlowType, error) {
	return r.store.ListFlowTypes(ctx, opts)
}

// MarkLatest makes version the latest of its (namespace, type).
func (r *Registry) MarkLatest(ctx context.Context, namespace, flowType, version string) error {
	return r.store.SetLatestFlowType(ctx, namespace, flowType, version)
}

// SetActive enables or disables a version.
func (r *Registry) SetActive(ctx context.Context, namespace, flowType, version string, active bool) error {
	ft, err := r.store.GetFlowType(ctx, namespace, flowType, version)
	if err != nil {
		return err
	}
	ft.IsActive = active
	ft.UpdatedAt = time.Now().UTC()
	return r.store.UpdateFlowType(ctx, ft)
}

// LatestVersion implements flow.Resolver.
func (r *Registry) LatestVersion(ctx context.Context, namespace, flowType string) (string, error) {
	ft, err := r.GetLatest(ctx, namespace, flowType)
	if err != nil {
		return "", err
	}
	return ft.Version, nil
}

// ──────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────

// Executable implements flow.Resolver.
func (r *Registry) Executable(ctx context.Context, namespace, flowType, version string) (flow.Executable, error) {
	ft, err := r.Get(ctx, namespace, flowType, version)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ft)
}

// Resolve builds, or returns the already built, executable of ft wired to
// the registry's storage components and tagged with ft's run name.
func (r *Registry) Resolve(ft *FlowType) (flow.Executable, error) {
	key := ft.Key() + "#" + ft.Executable

	r.mu.RLock()
	exe, ok := r.built[key]
	factory, known := r.executables[ft.Executable]
	r.mu.RUnlock()
	if ok {
		return exe, nil
	}
	if !known {
		return nil, &ConfigurationError{
			Key:    ft.Key(),
			Action: "building graph",
			Err:    fmt.Errorf("unknown executable %q", ft.Executable),
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		exe, ok := r.built[key]
		r.mu.RUnlock()
		if ok {
			return exe, nil
		}
		exe, err := factory(Components{
			Cache:        r.cache,
			Checkpoints:  r.saver,
			Store:        r.longterm,
			RunName:      ft.RunName(),
			NodeCacheTTL: r.cacheTTL,
			Logger:       r.logger,
		})
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.built[key] = exe
		r.mu.Unlock()
		return exe, nil
	})
	if err != nil {
		return nil, &ConfigurationError{Key: ft.Key(), Action: "building graph", Err: err}
	}
	return v.(flow.Executable), nil
}

// Schema resolves the schema of ft. An empty name accepts any object.
func (r *Registry) Schema(ft *FlowType) (schema.Schema, error) {
	if ft.Schema == "" {
		return schema.Passthrough{}, nil
	}
	r.mu.RLock()
	s, ok := r.schemas[ft.Schema]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{
			Key:    ft.Key(),
			Action: "loading schema",
			Err:    fmt.Errorf("unknown schema %q", ft.Schema),
		}
	}
	return s, nil
}

// Validate implements flow.Resolver.
func (r *Registry) Validate(ctx context.Context, namespace, flowType, version string, raw map[string]any) (map[string]any, error) {
	ft, err := r.Get(ctx, namespace, flowType, version)
	if err != nil {
		return nil, err
	}
	s, err := r.Schema(ft)
	if err != nil {
		return nil, err
	}
	return s.Validate(raw)
}

// Authorizer resolves the authorizer guarding capability c of ft. Names
// that cannot be resolved fall back to the authenticated-only policy, or
// to allow-any when authentication is not required.
func (r *Registry) Authorizer(ft *FlowType, c Capability) policy.Authorizer {
	name := ft.MutatePolicy
	if c == CapabilityResume {
		name = ft.ResumePolicy
	}
	if name != "" {
		a, err := r.catalog.Authorizer(name)
		if err == nil {
			return a
		}
		r.logger.Warn("flowtype: falling back to default authorizer",
			slog.String("flow_type", ft.Key()),
			slog.String("capability", string(c)),
			slog.String("error", err.Error()),
		)
	}
	if r.requireAuth {
		return policy.Authenticated()
	}
	return policy.Public()
}

// RateLimit resolves the throttle for capability c of ft. An empty name
// selects the default scope of the capability; a name that cannot be
// resolved disables throttling.
func (r *Registry) RateLimit(ft *FlowType, c Capability) *policy.RateLimit {
	name := ft.MutateThrottle
	if c == CapabilityResume {
		name = ft.ResumeThrottle
	}
	if name == "" {
		name = policy.ScopeFlowCreation
		if c == CapabilityResume {
			name = policy.ScopeFlowResume
		}
	}
	rl, err := r.catalog.RateLimit(name)
	if err != nil {
		r.logger.Warn("flowtype: throttle disabled",
			slog.String("flow_type", ft.Key()),
			slog.String("capability", string(c)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &rl
}

// IsNotFound reports whether err means a flow type does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, graflow.ErrFlowTypeNotFound)
}
