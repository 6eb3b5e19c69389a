package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRunNotFound indicates the run ID is unknown to the store.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists run snapshots. Implementations must copy on both
// write and read; the scheduler's event loop keeps mutating the live
// run object after handing it over.
type RunStore interface {
	// Create persists a new run. Duplicate IDs are an error.
	Create(ctx context.Context, run *Run) error

	// Save overwrites the stored snapshot for run.ID.
	Save(ctx context.Context, run *Run) error

	// Get returns a copy of the stored run.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns copies of all stored runs, newest first.
	List(ctx context.Context) ([]*Run, error)
}

// MemoryRunStore is an in-memory RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

func (s *MemoryRunStore) Create(_ context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryRunStore) Save(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("save run %s: %w", run.ID, ErrRunNotFound)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return run.Clone(), nil
}

func (s *MemoryRunStore) List(_ context.Context) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
