package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Condition is a boolean test on state used by AddIf and AddWhile.
// An error is logged and counts as false.
type Condition func(state State) (bool, error)

// AddDataReceiver adds a node that pauses the run to ask the caller for
// the required fields. The interrupt payload carries the current values of
// the updated fields next to "required_data". The required fields present
// in the submitted map become the node's update. An empty name defaults to
// waiting_for_<a>_and_<b>.
func (g *Graph) AddDataReceiver(name string, required, updated []string, opts ...NodeOption) *Graph {
	if name == "" {
		name = "waiting_for_" + strings.Join(required, "_and_")
	}
	req := make([]any, len(required))
	for i, f := range required {
		req[i] = f
	}
	return g.AddNode(name, func(_ context.Context, nc *NodeContext, state State) (State, error) {
		payload := pick(state, updated)
		payload["required_data"] = req
		received, err := nc.Interrupt(payload)
		if err != nil {
			return nil, err
		}
		nc.Logger().Debug("data received", slog.Any("data", received))
		switch v := received.(type) {
		case nil:
			return State{}, nil
		case map[string]any:
			out := State{}
			for _, f := range required {
				if val, ok := v[f]; ok {
					out[f] = val
				}
			}
			return out, nil
		default:
			return nil, fmt.Errorf("expected an object of %v, got %T", required, received)
		}
	}, opts...)
}

// AddSendData adds a node that pauses the run to publish the given fields.
// Resuming continues with no update. An empty name defaults to
// send_<a>_and_<b>.
func (g *Graph) AddSendData(name string, updated []string, opts ...NodeOption) *Graph {
	if name == "" {
		name = "send_" + strings.Join(updated, "_and_")
	}
	return g.AddNode(name, func(_ context.Context, nc *NodeContext, state State) (State, error) {
		if _, err := nc.Interrupt(pick(state, updated)); err != nil {
			return nil, err
		}
		nc.Logger().Debug("data sent", slog.Any("fields", updated))
		return State{}, nil
	}, opts...)
}

// LLMFunc computes a value from the named state fields.
type LLMFunc func(ctx context.Context, args map[string]any) (any, error)

// AddLLMCall adds a cached node that calls fn with the given state fields
// and stores the result under result. An empty result defaults to the node
// name without its "generate_" prefix. Missing fields fail the node.
func (g *Graph) AddLLMCall(name string, fields []string, result string, fn LLMFunc, opts ...NodeOption) *Graph {
	if result == "" {
		result = strings.TrimPrefix(name, "generate_")
	}
	node := func(ctx context.Context, _ *NodeContext, state State) (State, error) {
		args := make(map[string]any, len(fields))
		for _, f := range fields {
			v, ok := state[f]
			if !ok {
				return nil, fmt.Errorf("field %q not found in state for %s", f, name)
			}
			args[f] = v
		}
		out, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		return State{result: out}, nil
	}
	return g.AddNode(name, node, append([]NodeOption{WithCache(ByFields(fields...))}, opts...)...)
}

// AddIf routes from source to trueNode when cond holds and to falseNode
// otherwise. An empty falseNode adds a no-op node named skip_<trueNode>.
// When dest is set both branches continue to it.
func (g *Graph) AddIf(source string, cond Condition, trueNode, falseNode, dest string) *Graph {
	if falseNode == "" {
		falseNode = "skip_" + trueNode
		g.AddNode(falseNode, noop)
	}
	g.AddConditionalEdges(source, g.safeCondition(source, cond), map[string]string{
		"true":  trueNode,
		"false": falseNode,
	})
	if dest != "" {
		g.AddEdge(trueNode, dest)
		g.AddEdge(falseNode, dest)
	}
	return g
}

// AddWhile loops through repeat while cond holds, then continues to dest.
// A no-op node named repeat_<repeat> is inserted after source to evaluate
// the condition; repeat flows back into it.
func (g *Graph) AddWhile(source string, cond Condition, repeat, dest string) *Graph {
	loop := "repeat_" + repeat
	g.AddNode(loop, noop)
	g.AddEdge(source, loop)
	g.AddConditionalEdges(loop, g.safeCondition(loop, cond), map[string]string{
		"true":  repeat,
		"false": dest,
	})
	g.AddEdge(repeat, loop)
	return g
}

func (g *Graph) safeCondition(at string, cond Condition) Router {
	return func(state State) (string, error) {
		ok, err := cond(state)
		if err != nil {
			slog.Error("condition failed",
				slog.String("graph", g.name),
				slog.String("at", at),
				slog.String("error", err.Error()),
			)
			return "false", nil
		}
		if ok {
			return "true", nil
		}
		return "false", nil
	}
}

func noop(context.Context, *NodeContext, State) (State, error) { return State{}, nil }

func pick(state State, fields []string) State {
	out := make(State, len(fields)+1)
	for _, f := range fields {
		out[f] = state[f]
	}
	return out
}
