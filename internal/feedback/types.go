package feedback

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conductd/internal/gate"
)

// Correction is a human's judgement of a gate verdict for one finding.
type Correction string

const (
	// CorrectionFalsePositive: the finding was noise; the gate was
	// too strict.
	CorrectionFalsePositive Correction = "false_positive"

	// CorrectionFalseNegative: the finding was real and the gate let
	// it through.
	CorrectionFalseNegative Correction = "false_negative"

	// CorrectionConfirmed: the verdict was right.
	CorrectionConfirmed Correction = "confirmed"
)

// Valid reports whether c is a known correction.
func (c Correction) Valid() bool {
	return c == CorrectionFalsePositive || c == CorrectionFalseNegative || c == CorrectionConfirmed
}

// Record is one appended correction. Records are immutable once stored.
type Record struct {
	// ID identifies the record itself.
	ID string `json:"id"`

	// FindingID correlates back to the finding the verdict concerned.
	FindingID string `json:"finding_id"`

	// FindingKind is the finding's kind tag, the aggregation key for
	// the learner.
	FindingKind string `json:"finding_kind"`

	// OriginalVerdict is the verdict the gate produced at the time.
	OriginalVerdict gate.Verdict `json:"original_verdict"`

	// Correction is the human judgement.
	Correction Correction `json:"correction"`

	// Reason is free text explaining the correction.
	Reason string `json:"reason,omitempty"`

	// CreatedAt is when the correction was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the record before it is appended.
func (r *Record) Validate() error {
	if r.FindingID == "" {
		return fmt.Errorf("feedback record: finding id cannot be empty")
	}
	if r.FindingKind == "" {
		return fmt.Errorf("feedback record: finding kind cannot be empty")
	}
	if !r.Correction.Valid() {
		return fmt.Errorf("feedback record: invalid correction %q", r.Correction)
	}
	return nil
}

// KindStats aggregates corrections for one finding kind.
type KindStats struct {
	Kind           string `json:"kind"`
	Total          int    `json:"total"`
	FalsePositives int    `json:"false_positives"`
	FalseNegatives int    `json:"false_negatives"`
	Confirmed      int    `json:"confirmed"`
}

// FPRate returns the false-positive fraction, 0 for an empty sample.
func (s KindStats) FPRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.FalsePositives) / float64(s.Total)
}

// FNRate returns the false-negative fraction, 0 for an empty sample.
func (s KindStats) FNRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.FalseNegatives) / float64(s.Total)
}
