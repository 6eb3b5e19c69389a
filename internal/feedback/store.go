package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the append-only correction history.
//
// Implementations must be safe for concurrent appenders and must never
// mutate or delete stored records; the learner only reads history.
type Store interface {
	// Append stores a new record, assigning ID and CreatedAt if unset.
	Append(ctx context.Context, rec *Record) error

	// List returns the full history, oldest first.
	List(ctx context.Context) ([]Record, error)

	// StatsByKind aggregates the history per finding kind.
	StatsByKind(ctx context.Context) (map[string]KindStats, error)
}

// MemoryStore is an in-memory Store. It satisfies the state-machine
// contract for tests and single-node deployments; any durable
// append-only store can replace it.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of rec.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// List returns a copy of the history, oldest first.
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// StatsByKind aggregates all records per finding kind.
func (s *MemoryStore) StatsByKind(ctx context.Context) (map[string]KindStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]KindStats)
	for _, rec := range s.records {
		st := stats[rec.FindingKind]
		st.Kind = rec.FindingKind
		st.Total++
		switch rec.Correction {
		case CorrectionFalsePositive:
			st.FalsePositives++
		case CorrectionFalseNegative:
			st.FalseNegatives++
		case CorrectionConfirmed:
			st.Confirmed++
		}
		stats[rec.FindingKind] = st
	}
	return stats, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ Store = (*MemoryStore)(nil)
