package scheduler

import (
	"sort"
	"time"

	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/rollback"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

// RunState is the lifecycle state of a pipeline run.
type RunState string

const (
	StatePending    RunState = "pending"
	StateRunning    RunState = "running"
	StateSucceeded  RunState = "succeeded"
	StateBlocked    RunState = "blocked"
	StateFailed     RunState = "failed"
	StateRolledBack RunState = "rolled_back"
	StateCancelled  RunState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case StateSucceeded, StateBlocked, StateFailed, StateRolledBack, StateCancelled:
		return true
	}
	return false
}

// Reason codes attached to terminal runs.
const (
	ReasonGateBlocked    = "gate_blocked"
	ReasonGateEscalated  = "gate_escalated"
	ReasonStageFailed    = "stage_failed"
	ReasonRollbackFailed = "rollback_failed"
	ReasonCancelled      = "cancelled"
)

// Run is the full record of one pipeline execution.
type Run struct {
	ID          string   `json:"id"`
	CodeContext string   `json:"code_context"`
	State       RunState `json:"state"`

	// Reason is the terminal reason code; empty while the run is live.
	Reason string `json:"reason,omitempty"`

	// FailedStage names the stage that terminated the run, if any.
	FailedStage string `json:"failed_stage,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Results holds the recorded result per completed stage.
	Results map[string]*stage.Result `json:"results,omitempty"`

	// Invocations is the audit trail of every attempt series, late
	// arrivals included.
	Invocations []stage.Invocation `json:"invocations,omitempty"`

	// Decisions is every gate evaluation made for this run.
	Decisions []gate.Decision `json:"decisions,omitempty"`

	// BaselineStages lists best-effort stages whose results were
	// substituted with a baseline.
	BaselineStages []string `json:"baseline_stages,omitempty"`

	// Rollback records the rollback attempt, if one was triggered.
	Rollback *rollback.Record `json:"rollback,omitempty"`
}

// Clone returns a deep copy safe to hand outside the event loop.
func (r *Run) Clone() *Run {
	out := *r
	if r.Results != nil {
		out.Results = make(map[string]*stage.Result, len(r.Results))
		for name, res := range r.Results {
			cp := *res
			cp.Findings = append([]stage.Finding(nil), res.Findings...)
			if res.Metrics != nil {
				cp.Metrics = make(map[string]float64, len(res.Metrics))
				for k, v := range res.Metrics {
					cp.Metrics[k] = v
				}
			}
			out.Results[name] = &cp
		}
	}
	out.Invocations = append([]stage.Invocation(nil), r.Invocations...)
	out.Decisions = append([]gate.Decision(nil), r.Decisions...)
	out.BaselineStages = append([]string(nil), r.BaselineStages...)
	if r.Rollback != nil {
		rb := *r.Rollback
		out.Rollback = &rb
	}
	return &out
}

// OutcomeReport is the audit-complete summary of a finished run.
type OutcomeReport struct {
	RunID       string        `json:"run_id"`
	State       RunState      `json:"state"`
	Reason      string        `json:"reason,omitempty"`
	FailedStage string        `json:"failed_stage,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	Stages          map[string]*stage.Result `json:"stages,omitempty"`
	Decisions       []gate.Decision          `json:"decisions,omitempty"`
	Invocations     []stage.Invocation       `json:"invocations,omitempty"`
	LateInvocations int                      `json:"late_invocations"`
	BaselineStages  []string                 `json:"baseline_stages,omitempty"`
	Rollback        *rollback.Record         `json:"rollback,omitempty"`

	// LowConfidenceStages lists stages whose agents reported a
	// confidence below lowConfidenceFloor.
	LowConfidenceStages []string `json:"low_confidence_stages,omitempty"`

	// NeedsReview flags runs that completed with substituted baselines,
	// low-confidence results, or a failed rollback: an operator should
	// look at them.
	NeedsReview bool `json:"needs_review"`
}

// lowConfidenceFloor is the result confidence below which a stage is
// surfaced for manual review. Zero confidence means the agent did not
// report one and is not flagged.
const lowConfidenceFloor = 0.5

// Report builds the outcome report for a run. Valid on any run; fields
// for phases not yet reached are zero.
func (r *Run) Report() *OutcomeReport {
	c := r.Clone()
	rep := &OutcomeReport{
		RunID:          c.ID,
		State:          c.State,
		Reason:         c.Reason,
		FailedStage:    c.FailedStage,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
		Stages:         c.Results,
		Decisions:      c.Decisions,
		Invocations:    c.Invocations,
		BaselineStages: c.BaselineStages,
		Rollback:       c.Rollback,
	}
	if !c.CompletedAt.IsZero() && !c.StartedAt.IsZero() {
		rep.Duration = c.CompletedAt.Sub(c.StartedAt)
	}
	for _, inv := range c.Invocations {
		if inv.Late {
			rep.LateInvocations++
		}
	}
	for name, res := range c.Results {
		if res.Confidence > 0 && res.Confidence < lowConfidenceFloor {
			rep.LowConfidenceStages = append(rep.LowConfidenceStages, name)
		}
	}
	sort.Strings(rep.LowConfidenceStages)
	rep.NeedsReview = len(c.BaselineStages) > 0 ||
		len(rep.LowConfidenceStages) > 0 ||
		c.Reason == ReasonGateEscalated ||
		(c.Rollback != nil && c.Rollback.Status == rollback.StatusFailed)
	return rep
}
