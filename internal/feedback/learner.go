package feedback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

// LearnerConfig tunes how aggressively corrections reshape gate rules.
type LearnerConfig struct {
	// MinSamples is the minimum corrections per finding kind before
	// any adjustment happens.
	MinSamples int `koanf:"min_samples"`

	// FPRateThreshold triggers a confidence-floor raise for a kind.
	FPRateThreshold float64 `koanf:"fp_rate_threshold"`

	// FNRateThreshold triggers threshold tightening.
	FNRateThreshold float64 `koanf:"fn_rate_threshold"`

	// FloorStep is how much one revision moves a kind's floor.
	FloorStep float64 `koanf:"floor_step"`

	// FloorCap bounds how high a floor can be raised; a kind is never
	// filtered out entirely.
	FloorCap float64 `koanf:"floor_cap"`
}

// DefaultLearnerConfig returns the documented configuration defaults.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		MinSamples:      20,
		FPRateThreshold: 0.4,
		FNRateThreshold: 0.2,
		FloorStep:       0.1,
		FloorCap:        0.9,
	}
}

// Validate checks the learner configuration.
func (c LearnerConfig) Validate() error {
	if c.MinSamples < 1 {
		return fmt.Errorf("learner: min samples must be >= 1, got %d", c.MinSamples)
	}
	if c.FPRateThreshold <= 0 || c.FPRateThreshold > 1 {
		return fmt.Errorf("learner: fp rate threshold %v outside (0,1]", c.FPRateThreshold)
	}
	if c.FNRateThreshold <= 0 || c.FNRateThreshold > 1 {
		return fmt.Errorf("learner: fn rate threshold %v outside (0,1]", c.FNRateThreshold)
	}
	if c.FloorStep <= 0 || c.FloorStep > 1 {
		return fmt.Errorf("learner: floor step %v outside (0,1]", c.FloorStep)
	}
	if c.FloorCap <= 0 || c.FloorCap > 1 {
		return fmt.Errorf("learner: floor cap %v outside (0,1]", c.FloorCap)
	}
	return nil
}

// Learner derives revised gate rule sets from the correction history.
//
// It never touches recorded verdicts; it only reads aggregates and
// publishes forward-only rule versions through a gate.Source.
type Learner struct {
	config LearnerConfig
	store  Store
	source *gate.Source
	logger *zap.Logger
}

// NewLearner creates a learner. A nil logger is replaced with a nop.
func NewLearner(cfg LearnerConfig, store Store, source *gate.Source, logger *zap.Logger) (*Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("learner: store is required")
	}
	if source == nil {
		return nil, fmt.Errorf("learner: rule source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{config: cfg, store: store, source: source, logger: logger}, nil
}

// Learn aggregates the correction history and, if any kind crosses its
// adjustment threshold with a meaningful sample, publishes the next rule
// set version. Returns the published set, or nil when nothing changed.
func (l *Learner) Learn(ctx context.Context) (*gate.RuleSet, error) {
	stats, err := l.store.StatsByKind(ctx)
	if err != nil {
		return nil, fmt.Errorf("learner: aggregate feedback: %w", err)
	}

	current := l.source.Current()
	next := current.Clone()
	changed := false

	tightenHighs := false
	for kind, st := range stats {
		if st.Total < l.config.MinSamples {
			continue
		}

		if st.FPRate() >= l.config.FPRateThreshold {
			floor := next.FloorFor(kind) + l.config.FloorStep
			if floor > l.config.FloorCap {
				floor = l.config.FloorCap
			}
			if floor != next.FloorFor(kind) {
				if next.KindFloors == nil {
					next.KindFloors = make(map[string]float64)
				}
				next.KindFloors[kind] = floor
				changed = true
				l.logger.Info("raising confidence floor for noisy finding kind",
					zap.String("finding_kind", kind),
					zap.Float64("fp_rate", st.FPRate()),
					zap.Float64("floor", floor),
				)
			}
		}

		if st.FNRate() >= l.config.FNRateThreshold {
			tightenHighs = true
			l.logger.Info("finding kind leaking through gates",
				zap.String("finding_kind", kind),
				zap.Float64("fn_rate", st.FNRate()),
			)
		}
	}

	// False negatives mean the gates were too lenient somewhere; tighten
	// the high-severity block thresholds one notch across the board.
	if tightenHighs {
		for i, r := range next.Rules {
			if r.Severity == stage.SeverityHigh && r.Action == gate.ActionBlock && r.Threshold > 1 {
				next.Rules[i].Threshold = r.Threshold - 1
				changed = true
			}
		}
	}

	if !changed {
		return nil, nil
	}

	next.Version = current.Version + 1
	if err := l.source.Publish(next); err != nil {
		return nil, fmt.Errorf("learner: publish revision: %w", err)
	}

	l.logger.Info("published revised gate rules",
		zap.Int("version", next.Version),
		zap.Int("previous_version", current.Version),
	)
	return next, nil
}
