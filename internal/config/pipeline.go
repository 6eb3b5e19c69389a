package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/graph"
	"github.com/fyrsmithlabs/conductd/internal/retry"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

// Pipeline is the parsed pipeline definition file: the stage graph,
// agent endpoints, named retry policies, base gate rules, and
// per-project overlays.
type Pipeline struct {
	Stages   []stage.Definition        `koanf:"stages"`
	Agents   map[string]AgentSpec      `koanf:"agents"`
	Policies map[string]retry.Policy   `koanf:"policies"`
	Gate     *gate.RuleSet             `koanf:"gate"`
	Projects map[string]ProjectOverlay `koanf:"projects"`
}

// AgentSpec binds a stage to the HTTP worker that executes it.
type AgentSpec struct {
	Endpoint string   `koanf:"endpoint"`
	Timeout  Duration `koanf:"timeout"`
}

// ProjectOverlay adjusts the base gate rules for one project. Overlay
// rules replace a base rule with the same kind and severity; new
// combinations are appended.
type ProjectOverlay struct {
	ConfidenceFloor *float64           `koanf:"confidence_floor"`
	KindFloors      map[string]float64 `koanf:"kind_floors"`
	Rules           []gate.Rule        `koanf:"rules"`
}

// LoadPipeline loads and validates a pipeline definition file.
func LoadPipeline(path string) (*Pipeline, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("pipeline file too large: %d bytes (max %d)", len(content), maxConfigFileSize)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, err)
	}

	var p Pipeline
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline file: %w", err)
	}

	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline validation failed: %w", err)
	}
	return &p, nil
}

func (p *Pipeline) applyDefaults() {
	if p.Gate == nil {
		p.Gate = gate.DefaultRuleSet()
	}
	if p.Gate.Version == 0 {
		p.Gate.Version = 1
	}
	if p.Gate.ConfidenceFloor == 0 {
		p.Gate.ConfidenceFloor = gate.DefaultConfidenceFloor
	}
	for name, pol := range p.Policies {
		pol.ApplyDefaults()
		p.Policies[name] = pol
	}
}

// Validate checks the stage graph, policies, rules, and overlays.
// The graph check catches cycles and dangling prerequisites.
func (p *Pipeline) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline: at least one stage is required")
	}
	if _, err := graph.Load(p.Stages); err != nil {
		return err
	}
	for _, d := range p.Stages {
		if d.RetryPolicy != "" {
			if _, ok := p.Policies[d.RetryPolicy]; !ok {
				return fmt.Errorf("pipeline: stage %s names unknown retry policy %q", d.Name, d.RetryPolicy)
			}
		}
	}
	stageNames := make(map[string]bool, len(p.Stages))
	for _, d := range p.Stages {
		stageNames[d.Name] = true
	}
	for name, spec := range p.Agents {
		if !stageNames[name] {
			return fmt.Errorf("pipeline: agent for unknown stage %q", name)
		}
		if spec.Endpoint == "" {
			return fmt.Errorf("pipeline: agent for stage %q needs an endpoint", name)
		}
	}
	for name, pol := range p.Policies {
		if err := pol.Validate(); err != nil {
			return fmt.Errorf("pipeline: policy %q: %w", name, err)
		}
	}
	if err := p.Gate.Validate(); err != nil {
		return err
	}
	for project, overlay := range p.Projects {
		if err := overlay.validate(); err != nil {
			return fmt.Errorf("pipeline: project %q: %w", project, err)
		}
	}
	return nil
}

func (o ProjectOverlay) validate() error {
	if o.ConfidenceFloor != nil && (*o.ConfidenceFloor < 0 || *o.ConfidenceFloor > 1) {
		return fmt.Errorf("confidence floor %v outside [0,1]", *o.ConfidenceFloor)
	}
	for kind, floor := range o.KindFloors {
		if floor < 0 || floor > 1 {
			return fmt.Errorf("floor for kind %q outside [0,1]", kind)
		}
	}
	for _, r := range o.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Graph builds the dependency graph from the stage definitions.
func (p *Pipeline) Graph() (*graph.Graph, error) {
	return graph.Load(p.Stages)
}

// DefaultPolicy returns the policy named "default", or the package
// default when the file does not declare one.
func (p *Pipeline) DefaultPolicy() retry.Policy {
	if pol, ok := p.Policies["default"]; ok {
		return pol
	}
	return retry.DefaultPolicy()
}

// Rules resolves the effective gate rules for a project. An unknown or
// empty project gets the base rules. The result is a fresh copy safe to
// publish.
func (p *Pipeline) Rules(project string) *gate.RuleSet {
	rs := p.Gate.Clone()
	overlay, ok := p.Projects[project]
	if !ok {
		return rs
	}

	if overlay.ConfidenceFloor != nil {
		rs.ConfidenceFloor = *overlay.ConfidenceFloor
	}
	if len(overlay.KindFloors) > 0 && rs.KindFloors == nil {
		rs.KindFloors = make(map[string]float64, len(overlay.KindFloors))
	}
	for kind, floor := range overlay.KindFloors {
		rs.KindFloors[kind] = floor
	}

	for _, r := range overlay.Rules {
		replaced := false
		for i, base := range rs.Rules {
			if base.Kind == r.Kind && base.Severity == r.Severity {
				rs.Rules[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			rs.Rules = append(rs.Rules, r)
		}
	}
	return rs
}
