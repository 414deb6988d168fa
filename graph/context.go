package graph

import (
	"errors"
	"log/slog"

	"github.com/xraph/graflow/longterm"
)

// NodeContext gives a running node access to its run and to the
// long-term store, and lets it pause the run.
type NodeContext struct {
	node     string
	taskID   string
	threadID string
	runName  string
	resume   []any
	next     int
	store    *longterm.Service
	logger   *slog.Logger
}

// Node returns the running node's name.
func (nc *NodeContext) Node() string { return nc.node }

// ThreadID returns the run's thread ID.
func (nc *NodeContext) ThreadID() string { return nc.threadID }

// RunName returns the engine run name.
func (nc *NodeContext) RunName() string { return nc.runName }

// Store returns the long-term store, or nil when none is configured.
func (nc *NodeContext) Store() *longterm.Service { return nc.store }

// Logger returns a logger tagged with the node and thread.
func (nc *NodeContext) Logger() *slog.Logger { return nc.logger }

// Interrupt pauses the run and publishes value to the caller. When the
// run is resumed the node executes again from the top and the same
// Interrupt call returns the caller's answer. Nodes must return the error
// unchanged.
func (nc *NodeContext) Interrupt(value any) (any, error) {
	if nc.next < len(nc.resume) {
		v := nc.resume[nc.next]
		nc.next++
		return v, nil
	}
	return nil, &interruptSignal{value: value, index: nc.next}
}

type interruptSignal struct {
	value any
	index int
}

func (s *interruptSignal) Error() string { return "graph: node interrupted" }

// IsInterrupt reports whether err is a pause raised by Interrupt.
func IsInterrupt(err error) bool {
	var sig *interruptSignal
	return errors.As(err, &sig)
}
