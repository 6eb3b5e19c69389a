package scheduler

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/conductd/internal/gate"
)

// EventType classifies run lifecycle events.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventStageBaseline EventType = "stage_baseline"
	EventGateDecision  EventType = "gate_decision"
	EventRollback      EventType = "rollback"
	EventRunCompleted  EventType = "run_completed"
)

// Event is one run lifecycle notification. Fields beyond Type, RunID
// and At are populated where they apply.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`

	// CodeContext is the change-set reference the run operates on;
	// integration adapters use it to address external systems.
	CodeContext string `json:"code_context,omitempty"`

	Stage   string       `json:"stage,omitempty"`
	State   RunState     `json:"state,omitempty"`
	Verdict gate.Verdict `json:"verdict,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	At      time.Time    `json:"at"`
}

// Sink receives run lifecycle events. Implementations must return
// quickly; slow delivery belongs behind the sink, not in the event loop.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// nopSink drops all events.
type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
