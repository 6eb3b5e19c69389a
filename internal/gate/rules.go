package gate

import (
	"fmt"

	"github.com/fyrsmithlabs/conductd/internal/stage"
)

// Action is what a breached rule does to the run.
type Action string

const (
	// ActionBlock halts the run and cancels outstanding stages.
	ActionBlock Action = "block"

	// ActionEscalate halts the run but tags it for a human decision
	// instead of automatic failure.
	ActionEscalate Action = "escalate"

	// ActionWarn records the breach and lets the run continue.
	ActionWarn Action = "warn"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionBlock || a == ActionEscalate || a == ActionWarn
}

// dominates reports whether a takes precedence over b when multiple
// rules breach: block over escalate over warn.
func (a Action) dominates(b Action) bool {
	return a.rank() > b.rank()
}

func (a Action) rank() int {
	switch a {
	case ActionBlock:
		return 3
	case ActionEscalate:
		return 2
	case ActionWarn:
		return 1
	}
	return 0
}

// Rule breaches when a stage of the given kind reports at least
// Threshold findings of the given severity (after confidence filtering).
type Rule struct {
	Kind      stage.Kind     `json:"kind" koanf:"kind"`
	Severity  stage.Severity `json:"severity" koanf:"severity"`
	Threshold int            `json:"threshold" koanf:"threshold"`
	Action    Action         `json:"action" koanf:"action"`
}

// Validate checks the rule for configuration errors.
func (r Rule) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("rule: invalid stage kind %q", r.Kind)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule: invalid severity %q", r.Severity)
	}
	if r.Threshold < 1 {
		return fmt.Errorf("rule: threshold must be >= 1, got %d", r.Threshold)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("rule: invalid action %q", r.Action)
	}
	return nil
}

// DefaultConfidenceFloor excludes findings an agent itself barely
// believes in. Chosen as a configuration default; overridable globally
// and per finding kind.
const DefaultConfidenceFloor = 0.35

// RuleSet is an immutable versioned snapshot of active gate rules.
//
// The learner emits new versions; existing versions are never mutated.
// Do not modify a RuleSet after handing it to an evaluator.
type RuleSet struct {
	// Version is bumped by the learner on every revision.
	Version int `json:"version" koanf:"version"`

	// ConfidenceFloor excludes findings below it from rule counts.
	ConfidenceFloor float64 `json:"confidence_floor" koanf:"confidence_floor"`

	// KindFloors overrides ConfidenceFloor for specific finding kinds.
	// The learner raises these for kinds with high false-positive rates.
	KindFloors map[string]float64 `json:"kind_floors,omitempty" koanf:"kind_floors"`

	// Rules are the active threshold rules.
	Rules []Rule `json:"rules" koanf:"rules"`
}

// Validate checks the whole rule set for configuration errors.
func (rs *RuleSet) Validate() error {
	if rs.Version < 1 {
		return fmt.Errorf("rule set: version must be >= 1, got %d", rs.Version)
	}
	if rs.ConfidenceFloor < 0 || rs.ConfidenceFloor > 1 {
		return fmt.Errorf("rule set: confidence floor %v outside [0,1]", rs.ConfidenceFloor)
	}
	for kind, floor := range rs.KindFloors {
		if floor < 0 || floor > 1 {
			return fmt.Errorf("rule set: floor for kind %q outside [0,1]", kind)
		}
	}
	for _, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule set version %d: %w", rs.Version, err)
		}
	}
	return nil
}

// FloorFor returns the confidence floor applied to findings of kind.
func (rs *RuleSet) FloorFor(kind string) float64 {
	if f, ok := rs.KindFloors[kind]; ok {
		return f
	}
	return rs.ConfidenceFloor
}

// Clone returns a deep copy suitable for deriving the next version.
func (rs *RuleSet) Clone() *RuleSet {
	out := &RuleSet{
		Version:         rs.Version,
		ConfidenceFloor: rs.ConfidenceFloor,
		Rules:           make([]Rule, len(rs.Rules)),
	}
	copy(out.Rules, rs.Rules)
	if rs.KindFloors != nil {
		out.KindFloors = make(map[string]float64, len(rs.KindFloors))
		for k, v := range rs.KindFloors {
			out.KindFloors[k] = v
		}
	}
	return out
}

// DefaultRuleSet returns the version-1 rules used when no rule
// configuration is supplied: criticals block, repeated highs block,
// accumulating mediums escalate.
func DefaultRuleSet() *RuleSet {
	rules := make([]Rule, 0, 3*4)
	for _, kind := range []stage.Kind{stage.KindAnalysis, stage.KindTest, stage.KindDeploy, stage.KindMonitor} {
		rules = append(rules,
			Rule{Kind: kind, Severity: stage.SeverityCritical, Threshold: 1, Action: ActionBlock},
			Rule{Kind: kind, Severity: stage.SeverityHigh, Threshold: 3, Action: ActionBlock},
			Rule{Kind: kind, Severity: stage.SeverityMedium, Threshold: 5, Action: ActionEscalate},
		)
	}
	return &RuleSet{
		Version:         1,
		ConfidenceFloor: DefaultConfidenceFloor,
		Rules:           rules,
	}
}
