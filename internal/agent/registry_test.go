package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductd/internal/stage"
)

func passingAgent() stage.Agent {
	return Func(func(_ context.Context, _ stage.Input) (*stage.Result, error) {
		return &stage.Result{Status: stage.ResultSucceeded, Confidence: 1.0}, nil
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("security", passingAgent()))

	a, err := r.Lookup("security")
	require.NoError(t, err)

	res, err := a.Invoke(context.Background(), stage.Input{StageName: "security", RunID: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, stage.ResultSucceeded, res.Status)
}

func TestRegistry_RejectsDuplicatesAndBadInput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("security", passingAgent()))

	assert.Error(t, r.Register("security", passingAgent()))
	assert.Error(t, r.Register("", passingAgent()))
	assert.Error(t, r.Register("quality", nil))
}

func TestRegistry_LookupUnknownStage(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("ghost")
	assert.Error(t, err)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"deploy", "analysis", "monitor"} {
		require.NoError(t, r.Register(name, passingAgent()))
	}
	assert.Equal(t, []string{"analysis", "deploy", "monitor"}, r.Names())
}
