package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/conductd/internal/stage"
)

// Registry resolves stage names to agents.
type Registry interface {
	// Register binds an agent to a stage name. Re-registering a name
	// is an error; agents are wired once at startup.
	Register(name string, a stage.Agent) error

	// Lookup returns the agent for a stage name.
	Lookup(name string) (stage.Agent, error)

	// Names returns the registered stage names, sorted.
	Names() []string
}

// registry is the concrete implementation of Registry.
type registry struct {
	mu     sync.RWMutex
	agents map[string]stage.Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() Registry {
	return &registry{agents: make(map[string]stage.Agent)}
}

func (r *registry) Register(name string, a stage.Agent) error {
	if name == "" {
		return fmt.Errorf("agent: stage name is required")
	}
	if a == nil {
		return fmt.Errorf("agent: agent for %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent: stage %q already registered", name)
	}
	r.agents[name] = a
	return nil
}

func (r *registry) Lookup(name string) (stage.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent: no agent registered for stage %q", name)
	}
	return a, nil
}

func (r *registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function into a stage.Agent.
type Func func(ctx context.Context, in stage.Input) (*stage.Result, error)

// Invoke implements stage.Agent.
func (f Func) Invoke(ctx context.Context, in stage.Input) (*stage.Result, error) {
	return f(ctx, in)
}
