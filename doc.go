// Package graflow runs long-lived, checkpointable, interruptible flows.
//
// A flow executes step by step, may pause to wait for data supplied from
// outside, and resumes later, possibly after a process restart, from
// exactly where it stopped. Graflow is a library: import it, configure a
// store, register flow types with their executable factories, and drive
// runs through the flow service.
//
// # Quick Start
//
//	g, err := graflow.New(
//	    graflow.WithStore(pgStore),
//	    graflow.WithRequireAuthentication(true),
//	)
//	eng, err := engine.Build(g, engine.WithFlowTypes(demo.Register))
//	run, err := eng.Flows().Create(ctx, flow.CreateParams{Namespace: "demo", Type: "interactive_demo"})
//	res, err := eng.Flows().Resume(ctx, run.ID, nil)
//
// # Architecture
//
// Each subsystem (flow, flowtype, checkpoint, longterm, cache) defines its
// own store interface. A single backend implements all of them; the
// composite is store.Store. The engine package wires the subsystems.
//
// All entity IDs are prefixed, K-sortable UUIDv7 identifiers (see package id).
package graflow
