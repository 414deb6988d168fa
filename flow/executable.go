package flow

import "context"

// InterruptKey is the result key under which an engine reports the
// interrupts that paused an invocation.
const InterruptKey = "__interrupt__"

// Interrupt is one pause record raised by a node.
type Interrupt struct {
	ID    string   `json:"id"`
	Value any      `json:"value"`
	NS    []string `json:"ns,omitempty"`
	// Name is the node that raised the interrupt.
	Name string `json:"name,omitempty"`
	// Path is the task path of the raising node.
	Path []string `json:"path,omitempty"`
}

// Invocation is the input of one Executable.Invoke call: either initial
// input for a fresh run or a value answering the pending interrupt.
type Invocation struct {
	input    map[string]any
	resume   any
	isResume bool
}

// Start returns an invocation that feeds input to a fresh run.
func Start(input map[string]any) Invocation {
	return Invocation{input: input}
}

// Continue returns an invocation that answers the pending interrupt.
func Continue(value any) Invocation {
	return Invocation{resume: value, isResume: true}
}

// IsResume reports whether the invocation continues a paused run.
func (i Invocation) IsResume() bool { return i.isResume }

// Input returns the initial input of a Start invocation.
func (i Invocation) Input() map[string]any { return i.input }

// ResumeValue returns the value of a Continue invocation.
func (i Invocation) ResumeValue() any { return i.resume }

// RunConfig identifies the thread an invocation runs on.
type RunConfig struct {
	ThreadID       string
	RunName        string
	RecursionLimit int
}

// Task is a step scheduled in a snapshot.
type Task struct {
	ID         string
	Name       string
	Path       []any
	Interrupts []Interrupt
}

// Snapshot is the engine's view of a thread at its latest checkpoint.
type Snapshot struct {
	Values map[string]any
	Next   []string
	Tasks  []Task
}

// Executable is a compiled flow bound to its storage components.
type Executable interface {
	// Invoke runs the flow until it finishes or pauses. A paused result
	// carries a non-empty []Interrupt under InterruptKey.
	Invoke(ctx context.Context, inv Invocation, cfg RunConfig) (map[string]any, error)

	// GetState returns the latest snapshot, or nil if the thread has never
	// run.
	GetState(ctx context.Context, cfg RunConfig) (*Snapshot, error)
}
