// Package graph builds and validates the stage dependency graph.
//
// A pipeline's stage definitions must form a directed acyclic graph over
// prerequisite edges. Cycles and dangling prerequisite references are
// configuration errors detected at load time, before any run starts.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/conductd/internal/stage"
)

var (
	// ErrCycle indicates the definitions contain a dependency cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrDanglingPrerequisite indicates a prerequisite names an
	// undefined stage.
	ErrDanglingPrerequisite = errors.New("dangling prerequisite")

	// ErrDuplicateStage indicates two definitions share a name.
	ErrDuplicateStage = errors.New("duplicate stage")
)

// ConfigError wraps a graph validation failure. A pipeline with a
// ConfigError never starts.
type ConfigError struct {
	Err    error
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid pipeline configuration: %s: %v", e.Detail, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Graph is an immutable, validated stage dependency graph.
type Graph struct {
	stages map[string]stage.Definition
	order  []string // topological order, fixed at load time
}

// Load validates definitions and builds a Graph. It returns a *ConfigError
// on duplicate names, dangling prerequisites, or cycles.
func Load(defs []stage.Definition) (*Graph, error) {
	if len(defs) == 0 {
		return nil, &ConfigError{Err: errors.New("no stages defined"), Detail: "empty pipeline"}
	}

	stages := make(map[string]stage.Definition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, &ConfigError{Err: err, Detail: "stage definition"}
		}
		if _, ok := stages[d.Name]; ok {
			return nil, &ConfigError{Err: ErrDuplicateStage, Detail: d.Name}
		}
		stages[d.Name] = d
	}

	for _, d := range defs {
		for _, p := range d.Prerequisites {
			if _, ok := stages[p]; !ok {
				return nil, &ConfigError{
					Err:    ErrDanglingPrerequisite,
					Detail: fmt.Sprintf("stage %s requires undefined stage %s", d.Name, p),
				}
			}
		}
	}

	order, err := topoSort(stages)
	if err != nil {
		return nil, &ConfigError{Err: err, Detail: "prerequisite edges"}
	}

	return &Graph{stages: stages, order: order}, nil
}

// topoSort runs Kahn's algorithm over the prerequisite edges. It returns
// ErrCycle if any stage is unreachable from the zero-indegree frontier.
func topoSort(stages map[string]stage.Definition) ([]string, error) {
	indegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string, len(stages))

	for name, d := range stages {
		indegree[name] = len(d.Prerequisites)
		for _, p := range d.Prerequisites {
			dependents[p] = append(dependents[p], name)
		}
	}

	frontier := make([]string, 0, len(stages))
	for name, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(stages))
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}

	if len(order) != len(stages) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w involving stages %v", ErrCycle, stuck)
	}

	return order, nil
}

// Len returns the number of stages in the graph.
func (g *Graph) Len() int { return len(g.stages) }

// Stage returns the definition for name.
func (g *Graph) Stage(name string) (stage.Definition, bool) {
	d, ok := g.stages[name]
	return d, ok
}

// Names returns all stage names in topological order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Ready returns, sorted by name, every stage whose prerequisites are all
// in completed and which is not in started. This set is exactly what may
// run concurrently at this instant; ordering among its members carries no
// execution guarantee.
func (g *Graph) Ready(completed, started map[string]bool) []string {
	var ready []string
	for name, d := range g.stages {
		if started[name] || completed[name] {
			continue
		}
		ok := true
		for _, p := range d.Prerequisites {
			if !completed[p] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}
