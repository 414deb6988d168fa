// Package demo provides the sample flows shipped with graflow: a one-step
// hello world and an interactive brainstorming flow that pauses for user
// input.
package demo

import (
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/graph"
)

// Namespace is the namespace the sample flow types are registered under.
const Namespace = "demo"

// Executable and schema names.
const (
	HelloWorld      = "hello_world"
	InteractiveDemo = "interactive_demo"
)

// Register adds the sample executables and schemas to reg.
func Register(reg *flowtype.Registry) {
	reg.RegisterExecutable(HelloWorld, graph.Executable(BuildHelloWorld()))
	reg.RegisterSchema(HelloWorld, helloWorldSchema)
	reg.RegisterExecutable(InteractiveDemo, graph.Executable(BuildInteractiveDemo()))
	reg.RegisterSchema(InteractiveDemo, interactiveSchema)
}

// Definitions declares version 1 of each sample flow type as latest.
func Definitions() []flowtype.Definition {
	return []flowtype.Definition{
		{
			Namespace:   Namespace,
			Type:        HelloWorld,
			Version:     "v1",
			Executable:  HelloWorld,
			Schema:      HelloWorld,
			DisplayName: "Hello world",
			Latest:      true,
		},
		{
			Namespace:   Namespace,
			Type:        InteractiveDemo,
			Version:     "v1",
			Executable:  InteractiveDemo,
			Schema:      InteractiveDemo,
			DisplayName: "Interactive demo",
			Description: "Brainstorm a plan with the assistant and refine it with feedback.",
			Latest:      true,
		},
	}
}
