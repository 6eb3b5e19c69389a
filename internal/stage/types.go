package stage

import (
	"context"
	"fmt"
	"time"
)

// Kind categorizes what a stage does. The gate evaluator selects rules
// by kind, and the scheduler gives deploy-kind stages rollback semantics.
type Kind string

const (
	KindAnalysis Kind = "analysis"
	KindTest     Kind = "test"
	KindDeploy   Kind = "deploy"
	KindMonitor  Kind = "monitor"
)

// Valid reports whether k is a known stage kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAnalysis, KindTest, KindDeploy, KindMonitor:
		return true
	}
	return false
}

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a numeric rank for severity comparison. Higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Finding is a discrete issue reported by a stage.
//
// ID must be stable across runs for the same underlying issue; the
// feedback store correlates human corrections to findings by this ID.
type Finding struct {
	// ID is a stable identifier used for feedback correlation.
	ID string `json:"id"`

	// Kind is a free-form tag describing the class of issue
	// (e.g. "sql_injection", "flaky_test", "latency_regression").
	Kind string `json:"kind"`

	// Severity ranks the finding.
	Severity Severity `json:"severity"`

	// Confidence is the reporting agent's confidence in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// Message is a human-readable description.
	Message string `json:"message,omitempty"`
}

// Validate checks the finding for contract violations.
func (f Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("finding id cannot be empty")
	}
	if !f.Severity.Valid() {
		return fmt.Errorf("finding %s: invalid severity %q", f.ID, f.Severity)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("finding %s: confidence %v outside [0,1]", f.ID, f.Confidence)
	}
	return nil
}

// ResultStatus is the agent-reported outcome of one stage invocation.
type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
)

// Result is what an agent returns from one invocation.
type Result struct {
	Status   ResultStatus       `json:"status"`
	Findings []Finding          `json:"findings,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`

	// Confidence is the agent's overall confidence in its result.
	Confidence float64 `json:"confidence"`

	// Baseline marks a substituted default result for a best-effort
	// stage whose agent could not produce a real one.
	Baseline bool `json:"baseline,omitempty"`
}

// SeverityCounts tallies findings per severity.
func (r *Result) SeverityCounts() map[Severity]int {
	counts := make(map[Severity]int, 4)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// BaselineResult returns the substitute result the scheduler records when
// a best-effort stage exhausts its retries. It succeeds with no findings,
// zero confidence, and the Baseline marker set so the outcome report can
// flag the run for manual review.
func BaselineResult() *Result {
	return &Result{
		Status:     ResultSucceeded,
		Confidence: 0,
		Baseline:   true,
	}
}

// Input is the payload handed to an agent for one invocation.
type Input struct {
	StageName string `json:"stage_name"`
	RunID     string `json:"run_id"`

	// CodeContext references the change-set under scrutiny.
	CodeContext string `json:"code_context"`

	// PriorResults holds the results of already-completed prerequisite
	// stages, keyed by stage name.
	PriorResults map[string]*Result `json:"prior_results,omitempty"`
}

// Agent is the single capability every stage worker implements. The
// scheduler invokes it through the retry manager with a deadline derived
// from the stage timeout; implementations must respect ctx cancellation.
type Agent interface {
	Invoke(ctx context.Context, in Input) (*Result, error)
}

// Definition declares one stage of the pipeline graph.
type Definition struct {
	// Name uniquely identifies the stage within a pipeline.
	Name string `json:"name" koanf:"name"`

	// Kind is the declared capability kind.
	Kind Kind `json:"kind" koanf:"kind"`

	// Prerequisites are stage names that must succeed before this
	// stage becomes runnable. They must form a DAG.
	Prerequisites []string `json:"prerequisites,omitempty" koanf:"prerequisites"`

	// Timeout bounds one invocation attempt. Zero means the default.
	Timeout time.Duration `json:"timeout,omitempty" koanf:"timeout"`

	// RetryPolicy names the retry policy applied to this stage.
	// Empty selects the default policy.
	RetryPolicy string `json:"retry_policy,omitempty" koanf:"retry_policy"`

	// BestEffort marks a non-gating stage: if it exhausts retries the
	// scheduler substitutes BaselineResult and the run continues.
	BestEffort bool `json:"best_effort,omitempty" koanf:"best_effort"`
}

// DefaultTimeout bounds a stage attempt when the definition does not set one.
const DefaultTimeout = 5 * time.Minute

// EffectiveTimeout returns the stage timeout, falling back to DefaultTimeout.
func (d Definition) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Validate checks the definition for configuration errors.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("stage name cannot be empty")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("stage %s: invalid kind %q", d.Name, d.Kind)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("stage %s: timeout must be >= 0", d.Name)
	}
	for _, p := range d.Prerequisites {
		if p == d.Name {
			return fmt.Errorf("stage %s: cannot depend on itself", d.Name)
		}
	}
	return nil
}

// InvocationStatus tracks the lifecycle of one stage invocation.
type InvocationStatus string

const (
	InvocationQueued    InvocationStatus = "queued"
	InvocationRunning   InvocationStatus = "running"
	InvocationSucceeded InvocationStatus = "succeeded"
	InvocationFailed    InvocationStatus = "failed"
	InvocationTimedOut  InvocationStatus = "timed_out"
)

// Invocation records one attempt series for a stage within a run.
type Invocation struct {
	RunID     string           `json:"run_id"`
	Stage     string           `json:"stage"`
	Attempt   int              `json:"attempt"`
	Status    InvocationStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
	Result    *Result          `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`

	// Late marks a result that arrived after the run was cancelled.
	// Late invocations are recorded for audit but never change run state.
	Late bool `json:"late,omitempty"`
}
