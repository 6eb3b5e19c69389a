package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")), "negative durations rejected")
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(out))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("ghp_supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "supersecret")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestSecret_UnmarshalAcceptsRawValues(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"tok"`), &s))
	assert.Equal(t, "tok", s.Value())
}
