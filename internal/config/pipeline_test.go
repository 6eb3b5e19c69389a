package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

const samplePipeline = `
stages:
  - name: ingest
    kind: analysis
  - name: security
    kind: analysis
    prerequisites: [ingest]
    timeout: 2m
    retry_policy: aggressive
  - name: deploy
    kind: deploy
    prerequisites: [security]
agents:
  security:
    endpoint: http://localhost:9901/invoke
    timeout: 90s
policies:
  aggressive:
    max_attempts: 5
    base_delay: 500ms
gate:
  version: 1
  confidence_floor: 0.5
  rules:
    - kind: analysis
      severity: critical
      threshold: 1
      action: block
projects:
  payments:
    confidence_floor: 0.7
    kind_floors:
      style: 0.9
    rules:
      - kind: analysis
        severity: critical
        threshold: 2
        action: block
      - kind: deploy
        severity: high
        threshold: 1
        action: escalate
`

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPipeline_ParsesStagesAndPolicies(t *testing.T) {
	pipe, err := LoadPipeline(writePipeline(t, samplePipeline))
	require.NoError(t, err)

	require.Len(t, pipe.Stages, 3)
	sec := pipe.Stages[1]
	assert.Equal(t, "security", sec.Name)
	assert.Equal(t, stage.KindAnalysis, sec.Kind)
	assert.Equal(t, 2*time.Minute, sec.Timeout)
	assert.Equal(t, "aggressive", sec.RetryPolicy)

	pol := pipe.Policies["aggressive"]
	assert.Equal(t, 5, pol.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, pol.BaseDelay)
	assert.Equal(t, 2.0, pol.Multiplier, "unset fields filled from defaults")

	g, err := pipe.Graph()
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	require.Contains(t, pipe.Agents, "security")
	assert.Equal(t, "http://localhost:9901/invoke", pipe.Agents["security"].Endpoint)
	assert.Equal(t, 90*time.Second, pipe.Agents["security"].Timeout.Duration())
}

func TestLoadPipeline_RejectsBadAgents(t *testing.T) {
	_, err := LoadPipeline(writePipeline(t, `
stages:
  - name: a
    kind: test
agents:
  ghost:
    endpoint: http://localhost:9901/invoke
`))
	assert.Error(t, err, "agent bound to unknown stage")

	_, err = LoadPipeline(writePipeline(t, `
stages:
  - name: a
    kind: test
agents:
  a: {}
`))
	assert.Error(t, err, "agent without endpoint")
}

func TestLoadPipeline_DefaultsGateRules(t *testing.T) {
	pipe, err := LoadPipeline(writePipeline(t, "stages:\n  - name: only\n    kind: test\n"))
	require.NoError(t, err)

	require.NotNil(t, pipe.Gate)
	assert.Equal(t, 1, pipe.Gate.Version)
	assert.Equal(t, gate.DefaultConfidenceFloor, pipe.Gate.ConfidenceFloor)
	assert.NotEmpty(t, pipe.Gate.Rules)
}

func TestLoadPipeline_RejectsBadGraphs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "stages: []\n"},
		{"cycle", "stages:\n  - name: a\n    kind: test\n    prerequisites: [b]\n  - name: b\n    kind: test\n    prerequisites: [a]\n"},
		{"dangling prerequisite", "stages:\n  - name: a\n    kind: test\n    prerequisites: [ghost]\n"},
		{"unknown retry policy", "stages:\n  - name: a\n    kind: test\n    retry_policy: nope\n"},
		{"bad rule action", samplePipeline + "      - kind: test\n        severity: low\n        threshold: 1\n        action: explode\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPipeline(writePipeline(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestPipeline_DefaultPolicy(t *testing.T) {
	pipe, err := LoadPipeline(writePipeline(t, samplePipeline))
	require.NoError(t, err)

	// No policy named "default" in the file.
	assert.Equal(t, 3, pipe.DefaultPolicy().MaxAttempts)

	pipe2, err := LoadPipeline(writePipeline(t, `
stages:
  - name: only
    kind: test
policies:
  default:
    max_attempts: 7
`))
	require.NoError(t, err)
	assert.Equal(t, 7, pipe2.DefaultPolicy().MaxAttempts)
}

func TestPipeline_RulesOverlay(t *testing.T) {
	pipe, err := LoadPipeline(writePipeline(t, samplePipeline))
	require.NoError(t, err)

	base := pipe.Rules("")
	require.Len(t, base.Rules, 1)
	assert.Equal(t, 0.5, base.ConfidenceFloor)

	payments := pipe.Rules("payments")
	assert.Equal(t, 0.7, payments.ConfidenceFloor)
	assert.Equal(t, 0.9, payments.FloorFor("style"))
	require.Len(t, payments.Rules, 2, "matching rule replaced, new rule appended")
	assert.Equal(t, 2, payments.Rules[0].Threshold)
	assert.Equal(t, gate.ActionEscalate, payments.Rules[1].Action)

	// Overlay resolution never mutates the base.
	assert.Equal(t, 0.5, pipe.Gate.ConfidenceFloor)
	assert.Len(t, pipe.Gate.Rules, 1)

	unknown := pipe.Rules("does-not-exist")
	assert.Equal(t, 0.5, unknown.ConfidenceFloor)
}
