package graph_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/graph"
	"github.com/xraph/graflow/longterm"
	"github.com/xraph/graflow/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func components() flowtype.Components {
	st := memory.New()
	return flowtype.Components{
		Cache:       cache.New(st),
		Checkpoints: checkpoint.NewSaver(st),
		Store:       longterm.NewService(st),
		Logger:      testLogger(),
	}
}

func compile(t *testing.T, g *graph.Graph, c flowtype.Components) *graph.Compiled {
	t.Helper()
	exe, err := g.Compile(c)
	require.NoError(t, err)
	return exe
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func set(key string, value any) graph.NodeFunc {
	return func(context.Context, *graph.NodeContext, graph.State) (graph.State, error) {
		return graph.State{key: value}, nil
	}
}

func TestInvoke_Linear(t *testing.T) {
	g := graph.New("linear")
	g.SetReducer("trail", graph.Append)
	g.AddNode("a", set("trail", "a"))
	g.AddNode("b", set("trail", "b"))
	g.AddEdge(graph.Start, "a").AddEdge("a", "b").AddEdge("b", graph.End)

	exe := compile(t, g, components())
	ctx := context.Background()
	cfg := flow.RunConfig{ThreadID: "t1"}

	out, err := exe.Invoke(ctx, flow.Start(map[string]any{"trail": []any{"input"}}), cfg)
	require.NoError(t, err)
	assert.Equal(t, []any{"input", "a", "b"}, out["trail"])
	assert.NotContains(t, out, flow.InterruptKey)

	snap, err := exe.GetState(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Empty(t, snap.Next)
	assert.Equal(t, []any{"input", "a", "b"}, snap.Values["trail"])
}

func TestGetState_UnknownThread(t *testing.T) {
	g := graph.New("g")
	g.AddNode("a", set("x", 1))
	g.AddEdge(graph.Start, "a")

	snap, err := compile(t, g, components()).GetState(context.Background(), flow.RunConfig{ThreadID: "missing"})
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestInvoke_InterruptAndResume(t *testing.T) {
	g := graph.New("ask")
	g.AddNode("greet", set("greeting", "hi"))
	g.AddDataReceiver("", []string{"name"}, []string{"greeting"})
	g.AddNode("reply", func(_ context.Context, _ *graph.NodeContext, s graph.State) (graph.State, error) {
		return graph.State{"reply": "hello " + s["name"].(string)}, nil
	})
	g.AddEdge(graph.Start, "greet").
		AddEdge("greet", "waiting_for_name").
		AddEdge("waiting_for_name", "reply").
		AddEdge("reply", graph.End)

	exe := compile(t, g, components())
	ctx := context.Background()
	cfg := flow.RunConfig{ThreadID: "t1"}

	out, err := exe.Invoke(ctx, flow.Start(nil), cfg)
	require.NoError(t, err)
	ins := flow.Interrupts(out[flow.InterruptKey])
	require.Len(t, ins, 1)
	assert.Equal(t, map[string]any{"greeting": "hi", "required_data": []any{"name"}}, ins[0].Value)
	require.Len(t, ins[0].NS, 1)
	assert.Contains(t, ins[0].NS[0], "waiting_for_name:")
	assert.Equal(t, "waiting_for_name", ins[0].Name)
	assert.Equal(t, []string{"waiting_for_name"}, ins[0].Path)

	snap, err := exe.GetState(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"waiting_for_name"}, snap.Next)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, "waiting_for_name", snap.Tasks[0].Name)
	require.Len(t, snap.Tasks[0].Interrupts, 1)
	assert.Equal(t, ins[0].ID, snap.Tasks[0].Interrupts[0].ID)
	assert.Equal(t, "waiting_for_name", snap.Tasks[0].Interrupts[0].Name, "name survives the checkpoint")

	out, err = exe.Invoke(ctx, flow.Continue(map[string]any{"name": "ada", "ignored": true}), cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, flow.InterruptKey)
	assert.Equal(t, "hello ada", out["reply"])
	assert.NotContains(t, out, "ignored")
}

func TestInvoke_ContinueWithoutPause(t *testing.T) {
	g := graph.New("g")
	g.AddNode("a", set("x", 1))
	g.AddEdge(graph.Start, "a")
	exe := compile(t, g, components())

	_, err := exe.Invoke(context.Background(), flow.Continue(map[string]any{}), flow.RunConfig{ThreadID: "t"})
	assert.ErrorIs(t, err, graph.ErrNothingToResume)
}

func TestInvoke_MultipleInterruptsInOneNode(t *testing.T) {
	g := graph.New("twice")
	g.AddNode("ask", func(_ context.Context, nc *graph.NodeContext, _ graph.State) (graph.State, error) {
		first, err := nc.Interrupt("first?")
		if err != nil {
			return nil, err
		}
		second, err := nc.Interrupt("second?")
		if err != nil {
			return nil, err
		}
		return graph.State{"answers": []any{first, second}}, nil
	})
	g.AddEdge(graph.Start, "ask")

	exe := compile(t, g, components())
	ctx := context.Background()
	cfg := flow.RunConfig{ThreadID: "t"}

	out, err := exe.Invoke(ctx, flow.Start(nil), cfg)
	require.NoError(t, err)
	assert.Equal(t, "first?", flow.Interrupts(out[flow.InterruptKey])[0].Value)

	out, err = exe.Invoke(ctx, flow.Continue("one"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "second?", flow.Interrupts(out[flow.InterruptKey])[0].Value)

	out, err = exe.Invoke(ctx, flow.Continue("two"), cfg)
	require.NoError(t, err)
	assert.Equal(t, []any{"one", "two"}, out["answers"])
}

func TestInvoke_SendData(t *testing.T) {
	g := graph.New("send")
	g.AddNode("make", set("ideas", []any{"x"}))
	g.AddSendData("", []string{"ideas"})
	g.AddNode("after", set("done", true))
	g.AddEdge(graph.Start, "make").AddEdge("make", "send_ideas").AddEdge("send_ideas", "after")

	exe := compile(t, g, components())
	ctx := context.Background()
	cfg := flow.RunConfig{ThreadID: "t"}

	out, err := exe.Invoke(ctx, flow.Start(nil), cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ideas": []any{"x"}}, flow.Interrupts(out[flow.InterruptKey])[0].Value)

	out, err = exe.Invoke(ctx, flow.Continue(map[string]any{}), cfg)
	require.NoError(t, err)
	assert.Equal(t, true, out["done"])
}

func TestAddIf(t *testing.T) {
	build := func() *graph.Graph {
		g := graph.New("if")
		g.AddNode("start", set("seen", true))
		g.AddNode("big", set("size", "big"))
		g.AddNode("finish", set("finished", true))
		g.AddIf("start", func(s graph.State) (bool, error) {
			n, ok := s["n"]
			if !ok {
				return false, errors.New("n missing")
			}
			return asInt(n) > 10, nil
		}, "big", "", "finish")
		g.AddEdge(graph.Start, "start")
		return g
	}

	tests := []struct {
		name     string
		input    map[string]any
		wantSize any
	}{
		{name: "true branch", input: map[string]any{"n": 11}, wantSize: "big"},
		{name: "false branch", input: map[string]any{"n": 3}, wantSize: nil},
		{name: "condition error is false", input: map[string]any{}, wantSize: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exe := compile(t, build(), components())
			out, err := exe.Invoke(context.Background(), flow.Start(tt.input), flow.RunConfig{ThreadID: "t"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, out["size"])
			assert.Equal(t, true, out["finished"])
		})
	}
}

func TestAddWhile(t *testing.T) {
	g := graph.New("while")
	g.AddNode("init", set("count", 0))
	g.AddNode("inc", func(_ context.Context, _ *graph.NodeContext, s graph.State) (graph.State, error) {
		return graph.State{"count": asInt(s["count"]) + 1}, nil
	})
	g.AddNode("done", set("done", true))
	g.AddWhile("init", func(s graph.State) (bool, error) {
		return asInt(s["count"]) < 3, nil
	}, "inc", "done")
	g.AddEdge(graph.Start, "init")

	out, err := compile(t, g, components()).Invoke(context.Background(), flow.Start(nil), flow.RunConfig{ThreadID: "t"})
	require.NoError(t, err)
	assert.Equal(t, 3, asInt(out["count"]))
	assert.Equal(t, true, out["done"])
}

func TestInvoke_RecursionLimit(t *testing.T) {
	g := graph.New("forever")
	g.AddNode("init", set("n", 0))
	g.AddNode("spin", set("n", 1))
	g.AddNode("never", set("n", 2))
	g.AddWhile("init", func(graph.State) (bool, error) { return true, nil }, "spin", "never")
	g.AddEdge(graph.Start, "init")

	_, err := compile(t, g, components()).Invoke(context.Background(), flow.Start(nil),
		flow.RunConfig{ThreadID: "t", RecursionLimit: 5})
	assert.ErrorIs(t, err, graph.ErrRecursionLimit)
}

func TestInvoke_NodeError(t *testing.T) {
	boom := errors.New("boom")
	g := graph.New("fail")
	g.AddNode("a", func(context.Context, *graph.NodeContext, graph.State) (graph.State, error) {
		return nil, boom
	})
	g.AddEdge(graph.Start, "a")

	_, err := compile(t, g, components()).Invoke(context.Background(), flow.Start(nil), flow.RunConfig{ThreadID: "t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `node "a"`)
}

func TestAddLLMCall_Cached(t *testing.T) {
	var calls atomic.Int32
	g := graph.New("llm")
	g.AddLLMCall("generate_answer", []string{"question"}, "", func(_ context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return "answer to " + args["question"].(string), nil
	})
	g.AddEdge(graph.Start, "generate_answer")

	c := components()
	exe := compile(t, g, c)
	ctx := context.Background()

	for _, thread := range []string{"t1", "t2"} {
		out, err := exe.Invoke(ctx, flow.Start(map[string]any{"question": "why"}), flow.RunConfig{ThreadID: thread})
		require.NoError(t, err)
		assert.Equal(t, "answer to why", out["answer"])
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := exe.Invoke(ctx, flow.Start(map[string]any{"question": "how"}), flow.RunConfig{ThreadID: "t3"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	stats, err := c.Cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
}

func TestAddLLMCall_MissingField(t *testing.T) {
	g := graph.New("llm")
	g.AddLLMCall("generate_answer", []string{"question"}, "", func(context.Context, map[string]any) (any, error) {
		return "x", nil
	})
	g.AddEdge(graph.Start, "generate_answer")

	_, err := compile(t, g, components()).Invoke(context.Background(), flow.Start(nil), flow.RunConfig{ThreadID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "question" not found`)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *graph.Graph
		comps flowtype.Components
	}{
		{
			name: "no checkpointer",
			build: func() *graph.Graph {
				g := graph.New("g")
				g.AddNode("a", set("x", 1))
				return g.AddEdge(graph.Start, "a")
			},
		},
		{
			name: "no entry",
			build: func() *graph.Graph {
				return graph.New("g").AddNode("a", set("x", 1))
			},
			comps: components(),
		},
		{
			name: "unknown target",
			build: func() *graph.Graph {
				g := graph.New("g")
				g.AddNode("a", set("x", 1))
				return g.AddEdge(graph.Start, "a").AddEdge("a", "missing")
			},
			comps: components(),
		},
		{
			name: "duplicate node",
			build: func() *graph.Graph {
				g := graph.New("g")
				g.AddNode("a", set("x", 1)).AddNode("a", set("x", 2))
				return g.AddEdge(graph.Start, "a")
			},
			comps: components(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile(tt.comps)
			assert.Error(t, err)
		})
	}
}

func TestAppend(t *testing.T) {
	assert.Equal(t, []any{1, 2, 3}, graph.Append([]any{1}, []any{2, 3}))
	assert.Equal(t, []any{1, 2}, graph.Append([]any{1}, 2))
	assert.Equal(t, []any{"x"}, graph.Append(nil, "x"))
	assert.Nil(t, graph.Append(nil, nil))
}
