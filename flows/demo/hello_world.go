package demo

import (
	"context"

	"github.com/xraph/graflow/graph"
	"github.com/xraph/graflow/schema"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HelloWorldState is the state of the hello world flow.
type HelloWorldState struct {
	Messages []Message `json:"messages"`
}

var helloWorldSchema = schema.For[HelloWorldState](HelloWorld,
	schema.WithDefaults(func() HelloWorldState { return HelloWorldState{Messages: []Message{}} }),
)

// BuildHelloWorld returns a graph with a single node that answers with a
// canned AI message.
func BuildHelloWorld() *graph.Graph {
	g := graph.New(HelloWorld)
	g.SetReducer("messages", graph.Append)
	g.AddNode("mock_llm", mockLLM)
	g.AddEdge(graph.Start, "mock_llm")
	g.AddEdge("mock_llm", graph.End)
	return g
}

func mockLLM(context.Context, *graph.NodeContext, graph.State) (graph.State, error) {
	return graph.State{"messages": []any{
		map[string]any{"role": "ai", "content": "hello world"},
	}}, nil
}
