package gate

import (
	"time"

	"github.com/fyrsmithlabs/conductd/internal/stage"
)

// Verdict is the outcome of evaluating one stage's findings.
type Verdict string

const (
	VerdictPass     Verdict = "pass"
	VerdictWarn     Verdict = "warn"
	VerdictEscalate Verdict = "escalate"
	VerdictBlock    Verdict = "block"
)

// Halts reports whether the verdict stops the run.
func (v Verdict) Halts() bool {
	return v == VerdictBlock || v == VerdictEscalate
}

// Breach records one rule whose threshold was met.
type Breach struct {
	Rule  Rule `json:"rule"`
	Count int  `json:"count"`
}

// Decision is the full, reproducible record of one gate evaluation.
// It carries everything needed to explain the verdict without
// re-running the agent: the rule set version, the breached rules, and
// the findings that counted toward them.
type Decision struct {
	RunID       string          `json:"run_id"`
	Stage       string          `json:"stage"`
	Kind        stage.Kind      `json:"kind"`
	Verdict     Verdict         `json:"verdict"`
	RuleVersion int             `json:"rule_version"`
	Breaches    []Breach        `json:"breaches,omitempty"`
	Counted     []stage.Finding `json:"counted,omitempty"`
	Excluded    []stage.Finding `json:"excluded,omitempty"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

// Evaluate maps a stage's findings to a verdict under one rule set
// snapshot. Pure: no side effects, deterministic for identical inputs
// and rule version (EvaluatedAt is metadata stamped by the caller's
// clock and does not influence the verdict).
//
// Findings below the confidence floor for their kind are excluded from
// all counts. Among surviving findings, a single critical always blocks
// regardless of what the threshold rules say. Otherwise the breached
// rule with the dominant action wins: block over escalate over warn.
// No breach with findings present yields warn-free pass.
func Evaluate(runID, stageName string, kind stage.Kind, findings []stage.Finding, rs *RuleSet) Decision {
	d := Decision{
		RunID:       runID,
		Stage:       stageName,
		Kind:        kind,
		Verdict:     VerdictPass,
		RuleVersion: rs.Version,
		EvaluatedAt: time.Now().UTC(),
	}

	counts := make(map[stage.Severity]int, 4)
	for _, f := range findings {
		if f.Confidence < rs.FloorFor(f.Kind) {
			d.Excluded = append(d.Excluded, f)
			continue
		}
		d.Counted = append(d.Counted, f)
		counts[f.Severity]++
	}

	// A surviving critical blocks unconditionally.
	if counts[stage.SeverityCritical] > 0 {
		d.Verdict = VerdictBlock
		d.Breaches = append(d.Breaches, Breach{
			Rule: Rule{
				Kind:      kind,
				Severity:  stage.SeverityCritical,
				Threshold: 1,
				Action:    ActionBlock,
			},
			Count: counts[stage.SeverityCritical],
		})
		return d
	}

	var dominant Action
	for _, r := range rs.Rules {
		if r.Kind != kind {
			continue
		}
		if n := counts[r.Severity]; n >= r.Threshold {
			d.Breaches = append(d.Breaches, Breach{Rule: r, Count: n})
			if dominant == "" || r.Action.dominates(dominant) {
				dominant = r.Action
			}
		}
	}

	switch dominant {
	case ActionBlock:
		d.Verdict = VerdictBlock
	case ActionEscalate:
		d.Verdict = VerdictEscalate
	case ActionWarn:
		d.Verdict = VerdictWarn
	}

	return d
}
