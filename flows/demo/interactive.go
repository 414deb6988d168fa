package demo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/graflow/graph"
	"github.com/xraph/graflow/schema"
)

// InteractiveState is the state of the interactive demo flow.
type InteractiveState struct {
	Topic        string   `json:"topic,omitempty"`
	Ideas        []string `json:"ideas"`
	Feedback     string   `json:"feedback,omitempty"`
	Conversation []string `json:"conversation"`
	Iteration    int      `json:"iteration"`
	Summary      string   `json:"summary,omitempty"`
}

var interactiveSchema = schema.For[InteractiveState](InteractiveDemo,
	schema.WithDefaults(func() InteractiveState {
		return InteractiveState{Ideas: []string{}, Conversation: []string{}}
	}),
)

const (
	greeting = "Hi! I'm your interactive co-creator. Tell me what you're working on " +
		"and we'll design a plan together."
	feedbackPrompt = "Share what you like, dislike, or want to double-click on. " +
		"I can adjust the plan based on your feedback."
	closing = "Great! I've incorporated your feedback into the plan. " +
		"Restart the flow if you'd like another iteration."
)

// SummaryKey is the long-term store key under which the final summary of
// a thread is saved, in namespace [Namespace, InteractiveDemo, thread].
const SummaryKey = "summary"

// BuildInteractiveDemo returns the interactive brainstorming graph:
//
//	initialize_conversation -> request_topic (needs topic)
//	-> brainstorm_ideas -> share_ideas (sends ideas)
//	-> prompt_for_feedback -> collect_feedback (needs feedback)
//	-> apply_feedback
func BuildInteractiveDemo() *graph.Graph {
	g := graph.New(InteractiveDemo)

	g.AddNode("initialize_conversation", typed(initializeConversation))
	g.AddNode("brainstorm_ideas", typed(brainstormIdeas))
	g.AddNode("prompt_for_feedback", typed(promptForFeedback))
	g.AddNode("apply_feedback", applyFeedback)

	g.AddDataReceiver("request_topic", []string{"topic"}, []string{"conversation"})
	g.AddSendData("share_ideas", []string{"ideas", "conversation"})
	g.AddDataReceiver("collect_feedback", []string{"feedback"}, []string{"conversation", "ideas"})

	g.AddEdge(graph.Start, "initialize_conversation")
	g.AddEdge("initialize_conversation", "request_topic")
	g.AddEdge("request_topic", "brainstorm_ideas")
	g.AddEdge("brainstorm_ideas", "share_ideas")
	g.AddEdge("share_ideas", "prompt_for_feedback")
	g.AddEdge("prompt_for_feedback", "collect_feedback")
	g.AddEdge("collect_feedback", "apply_feedback")
	g.AddEdge("apply_feedback", graph.End)
	return g
}

// typed adapts a node working on InteractiveState.
func typed(fn func(InteractiveState) graph.State) graph.NodeFunc {
	return func(_ context.Context, _ *graph.NodeContext, state graph.State) (graph.State, error) {
		st, err := interactiveSchema.Decode(state)
		if err != nil {
			return nil, err
		}
		return fn(st), nil
	}
}

func initializeConversation(st InteractiveState) graph.State {
	if len(st.Conversation) > 0 {
		return graph.State{}
	}
	return graph.State{"conversation": []string{greeting}}
}

func brainstormIdeas(st InteractiveState) graph.State {
	if st.Topic == "" {
		return graph.State{}
	}
	iteration := st.Iteration + 1
	templates := []string{
		fmt.Sprintf("Define a clear outcome for %s.", st.Topic),
		fmt.Sprintf("Interview a power user impacted by %s.", st.Topic),
		fmt.Sprintf("Prototype a low-fidelity experiment related to %s.", st.Topic),
	}
	ideas := make([]string, len(templates))
	for i, t := range templates {
		ideas[i] = fmt.Sprintf("[Round %d] %s", iteration, t)
	}
	conversation := append(st.Conversation,
		fmt.Sprintf("I drafted %d ideas for '%s'. Let me know what resonates.", len(ideas), st.Topic))
	return graph.State{"ideas": ideas, "conversation": conversation, "iteration": iteration}
}

func promptForFeedback(st InteractiveState) graph.State {
	return graph.State{"conversation": append(st.Conversation, feedbackPrompt)}
}

// Summarize renders the final plan summary.
func Summarize(st InteractiveState) string {
	ack := "Thanks for the review."
	if st.Feedback != "" {
		ack = fmt.Sprintf("Thanks for the feedback: '%s'.", st.Feedback)
	}
	topic := st.Topic
	if topic == "" {
		topic = "unspecified"
	}
	idea := "N/A"
	if len(st.Ideas) > 0 {
		idea = st.Ideas[0]
	}
	return strings.Join([]string{
		ack,
		"Focus topic: " + topic,
		"Highlighted idea: " + idea,
		"Next step: schedule a follow-up session after trying the idea.",
	}, "\n")
}

func applyFeedback(ctx context.Context, nc *graph.NodeContext, state graph.State) (graph.State, error) {
	st, err := interactiveSchema.Decode(state)
	if err != nil {
		return nil, err
	}
	summary := Summarize(st)

	if lt := nc.Store(); lt != nil {
		ns := []string{Namespace, InteractiveDemo, nc.ThreadID()}
		if err := lt.Put(ctx, ns, SummaryKey, map[string]any{"summary": summary, "topic": st.Topic}); err != nil {
			nc.Logger().Warn("failed to save summary", slog.String("error", err.Error()))
		}
	}

	return graph.State{
		"summary":      summary,
		"conversation": append(st.Conversation, closing),
	}, nil
}
