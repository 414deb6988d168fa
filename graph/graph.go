// Package graph is a small state-graph execution engine implementing
// flow.Executable.
//
// A graph is a set of named nodes joined by static and conditional edges.
// Nodes read the current state and return a partial update; updates are
// folded into channels, one per state key, through optional reducers.
// Execution proceeds in steps: every node scheduled for a step runs against
// the same state, their updates are applied together, and a checkpoint is
// written before the next step is scheduled. A node may pause the run by
// calling NodeContext.Interrupt; the run resumes later from the last
// checkpoint with the value supplied by the caller.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/flowtype"
)

// Reserved node names.
const (
	Start = "__start__"
	End   = "__end__"
)

// State is the channel map a node reads.
type State = map[string]any

// NodeFunc computes a partial state update.
type NodeFunc func(ctx context.Context, nc *NodeContext, state State) (State, error)

// Router picks the next node after a node ran. The returned key is mapped
// through the edge's target table when one was given.
type Router func(state State) (string, error)

// CachePolicy makes a node's update reusable for equal keys.
type CachePolicy struct {
	// Key derives the cache key from the node name and its input state.
	Key func(node string, state State) string
	// TTL bounds how long a result is reused. Zero uses the engine default.
	TTL time.Duration
}

// ByFields returns a cache policy keyed on the named state fields.
func ByFields(fields ...string) *CachePolicy {
	return &CachePolicy{Key: func(node string, state State) string {
		return cache.KeyFromFields(node, state, fields)
	}}
}

// NodeOption configures a node.
type NodeOption func(*node)

// WithCache attaches a cache policy to a node.
func WithCache(p *CachePolicy) NodeOption {
	return func(n *node) { n.cache = p }
}

type node struct {
	name  string
	fn    NodeFunc
	cache *CachePolicy
}

type branch struct {
	route   Router
	targets map[string]string
}

// Graph is a mutable graph definition. Build errors are collected and
// reported by Compile.
type Graph struct {
	name     string
	nodes    map[string]*node
	edges    map[string][]string
	branches map[string][]branch
	reducers map[string]Reducer
	errs     []error
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{
		name:     name,
		nodes:    make(map[string]*node),
		edges:    make(map[string][]string),
		branches: make(map[string][]branch),
		reducers: make(map[string]Reducer),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// AddNode adds a node.
func (g *Graph) AddNode(name string, fn NodeFunc, opts ...NodeOption) *Graph {
	switch {
	case name == "" || name == Start || name == End:
		g.errs = append(g.errs, fmt.Errorf("graph %s: invalid node name %q", g.name, name))
		return g
	case g.nodes[name] != nil:
		g.errs = append(g.errs, fmt.Errorf("graph %s: duplicate node %q", g.name, name))
		return g
	}
	n := &node{name: name, fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	g.nodes[name] = n
	return g
}

// AddEdge schedules to after from.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdges routes from the node from through route. A nil
// targets table treats the router's result as a node name.
func (g *Graph) AddConditionalEdges(from string, route Router, targets map[string]string) *Graph {
	g.branches[from] = append(g.branches[from], branch{route: route, targets: targets})
	return g
}

// SetReducer sets how updates to channel are folded into its value.
func (g *Graph) SetReducer(channel string, r Reducer) *Graph {
	g.reducers[channel] = r
	return g
}

// Compile validates the graph and binds it to storage components.
func (g *Graph) Compile(c flowtype.Components) (*Compiled, error) {
	errs := append([]error(nil), g.errs...)
	if c.Checkpoints == nil {
		errs = append(errs, fmt.Errorf("graph %s: a checkpointer is required", g.name))
	}
	if len(g.edges[Start]) == 0 && len(g.branches[Start]) == 0 {
		errs = append(errs, fmt.Errorf("graph %s: no entry edge from %s", g.name, Start))
	}
	for from, tos := range g.edges {
		if from != Start && g.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("graph %s: edge from unknown node %q", g.name, from))
		}
		for _, to := range tos {
			if to != End && g.nodes[to] == nil {
				errs = append(errs, fmt.Errorf("graph %s: edge to unknown node %q", g.name, to))
			}
		}
	}
	for from, bs := range g.branches {
		if from != Start && g.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("graph %s: branch from unknown node %q", g.name, from))
		}
		for _, b := range bs {
			for _, to := range b.targets {
				if to != End && g.nodes[to] == nil {
					errs = append(errs, fmt.Errorf("graph %s: branch to unknown node %q", g.name, to))
				}
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return newCompiled(g, c), nil
}
