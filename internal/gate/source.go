package gate

import (
	"fmt"
	"sync"
)

// Source holds the active rule set and hands out consistent snapshots.
//
// Every evaluation reads exactly one version; Publish swaps the whole
// snapshot atomically so a reader never observes a partial update.
// Writers are the config watcher (operator edits) and the pattern
// learner (derived revisions).
type Source struct {
	mu      sync.RWMutex
	current *RuleSet
}

// NewSource creates a source seeded with rs. A nil rs seeds the default
// rule set.
func NewSource(rs *RuleSet) *Source {
	if rs == nil {
		rs = DefaultRuleSet()
	}
	return &Source{current: rs}
}

// Current returns the active snapshot. Callers must not mutate it.
func (s *Source) Current() *RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Publish activates rs for subsequently scheduled evaluations. Versions
// move forward only; publishing a stale or equal version is rejected so
// a slow learner cannot clobber a newer operator edit.
func (s *Source) Publish(rs *RuleSet) error {
	if err := rs.Validate(); err != nil {
		return fmt.Errorf("publish rule set: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rs.Version <= s.current.Version {
		return fmt.Errorf("publish rule set: version %d not newer than active version %d",
			rs.Version, s.current.Version)
	}
	s.current = rs
	return nil
}
