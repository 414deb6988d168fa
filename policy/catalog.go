package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xraph/graflow"
)

// ExprPrefix marks an authorizer name as an inline expression.
const ExprPrefix = "expr:"

// AuthorizerFactory builds an Authorizer.
type AuthorizerFactory func() (Authorizer, error)

// Catalog maps policy names to authorizers and rate limits.
type Catalog struct {
	mu          sync.RWMutex
	authorizers map[string]AuthorizerFactory
	rateLimits  map[string]RateLimit
	exprs       map[string]*ExprAuthorizer
}

// NewCatalog returns a Catalog holding the built-in policies.
//
// Authorizers: "public" (alias "AllowAny"), "deny", "authenticated"
// (alias "IsAuthenticated"), "staff" (alias "IsAdminUser"), "owner" and
// any "expr:<expression>". Rate limits: "flow_creation" at 100/hour and
// "flow_resume" at 300/hour.
func NewCatalog() *Catalog {
	c := &Catalog{
		authorizers: make(map[string]AuthorizerFactory),
		rateLimits:  make(map[string]RateLimit),
		exprs:       make(map[string]*ExprAuthorizer),
	}
	static := func(a Authorizer) AuthorizerFactory {
		return func() (Authorizer, error) { return a, nil }
	}
	for _, name := range []string{"public", "AllowAny"} {
		c.authorizers[name] = static(Public())
	}
	for _, name := range []string{"authenticated", "IsAuthenticated"} {
		c.authorizers[name] = static(Authenticated())
	}
	for _, name := range []string{"staff", "IsAdminUser"} {
		c.authorizers[name] = static(Staff())
	}
	c.authorizers["owner"] = static(Owner())
	c.authorizers["deny"] = static(Deny())

	c.rateLimits[ScopeFlowCreation] = RateLimit{Scope: ScopeFlowCreation, Rate: Rate{Requests: 100, Period: time.Hour}}
	c.rateLimits[ScopeFlowResume] = RateLimit{Scope: ScopeFlowResume, Rate: Rate{Requests: 300, Period: time.Hour}}
	return c
}

// RegisterAuthorizer adds or replaces a named authorizer.
func (c *Catalog) RegisterAuthorizer(name string, f AuthorizerFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorizers[name] = f
}

// RegisterRateLimit adds or replaces a named rate limit. The name doubles
// as the throttle scope.
func (c *Catalog) RegisterRateLimit(name string, r Rate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimits[name] = RateLimit{Scope: name, Rate: r}
}

// SetRate parses spec and replaces the rate of a named limit.
func (c *Catalog) SetRate(name, spec string) error {
	r, err := ParseRate(spec)
	if err != nil {
		return err
	}
	c.RegisterRateLimit(name, r)
	return nil
}

// Authorizer resolves a name. Unknown names return an error wrapping
// graflow.ErrUnknownPolicy.
func (c *Catalog) Authorizer(name string) (Authorizer, error) {
	if src, ok := strings.CutPrefix(name, ExprPrefix); ok {
		return c.expr(strings.TrimSpace(src))
	}
	c.mu.RLock()
	f, ok := c.authorizers[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: authorizer %q", graflow.ErrUnknownPolicy, name)
	}
	a, err := f()
	if err != nil {
		return nil, fmt.Errorf("policy: build authorizer %q: %w", name, err)
	}
	return a, nil
}

// RateLimit resolves a named rate limit.
func (c *Catalog) RateLimit(name string) (RateLimit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rl, ok := c.rateLimits[name]
	if !ok {
		return RateLimit{}, fmt.Errorf("%w: rate limit %q", graflow.ErrUnknownPolicy, name)
	}
	return rl, nil
}

func (c *Catalog) expr(src string) (Authorizer, error) {
	c.mu.RLock()
	a, ok := c.exprs[src]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}
	a, err := Expr(src)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.exprs[src] = a
	c.mu.Unlock()
	return a, nil
}
