package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Valid(t *testing.T) {
	tests := []struct {
		kind  Kind
		valid bool
	}{
		{KindAnalysis, true},
		{KindTest, true},
		{KindDeploy, true},
		{KindMonitor, true},
		{Kind("build"), false},
		{Kind(""), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.kind.Valid(), "kind %q", tt.kind)
	}
}

func TestSeverity_Rank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestFinding_Validate(t *testing.T) {
	valid := Finding{ID: "f-1", Kind: "sql_injection", Severity: SeverityHigh, Confidence: 0.9}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		finding Finding
	}{
		{"empty id", Finding{Kind: "x", Severity: SeverityLow, Confidence: 0.5}},
		{"bad severity", Finding{ID: "f-2", Kind: "x", Severity: "huge", Confidence: 0.5}},
		{"confidence above one", Finding{ID: "f-3", Kind: "x", Severity: SeverityLow, Confidence: 1.5}},
		{"negative confidence", Finding{ID: "f-4", Kind: "x", Severity: SeverityLow, Confidence: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.finding.Validate())
		})
	}
}

func TestResult_SeverityCounts(t *testing.T) {
	r := &Result{
		Status: ResultSucceeded,
		Findings: []Finding{
			{ID: "a", Severity: SeverityCritical},
			{ID: "b", Severity: SeverityHigh},
			{ID: "c", Severity: SeverityHigh},
			{ID: "d", Severity: SeverityLow},
		},
	}

	counts := r.SeverityCounts()
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 2, counts[SeverityHigh])
	assert.Equal(t, 0, counts[SeverityMedium])
	assert.Equal(t, 1, counts[SeverityLow])
}

func TestBaselineResult(t *testing.T) {
	r := BaselineResult()
	assert.Equal(t, ResultSucceeded, r.Status)
	assert.True(t, r.Baseline)
	assert.Zero(t, r.Confidence)
	assert.Empty(t, r.Findings)
}

func TestDefinition_Validate(t *testing.T) {
	valid := Definition{Name: "security", Kind: KindAnalysis, Prerequisites: []string{"ingest"}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		def  Definition
	}{
		{"empty name", Definition{Kind: KindTest}},
		{"bad kind", Definition{Name: "x", Kind: "compile"}},
		{"self dependency", Definition{Name: "x", Kind: KindTest, Prerequisites: []string{"x"}}},
		{"negative timeout", Definition{Name: "x", Kind: KindTest, Timeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.def.Validate())
		})
	}
}

func TestDefinition_EffectiveTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Definition{Name: "x", Kind: KindTest}.EffectiveTimeout())
	assert.Equal(t, time.Minute, Definition{Name: "x", Kind: KindTest, Timeout: time.Minute}.EffectiveTimeout())
}
