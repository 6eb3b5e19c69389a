// Package stage defines the contract shared by every pipeline stage:
// the input handed to an agent, the result it must return, and the
// findings that gate evaluation consumes.
//
// The orchestrator never looks inside agent logic. It schedules stages,
// enforces timeouts, and reads back the fields declared here. Anything
// an agent wants to carry beyond that contract goes into Result.Metrics
// and is treated as opaque.
package stage
