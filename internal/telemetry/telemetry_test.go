package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductd/internal/config"
)

func TestNewDefaultConfig_DisabledByDefault(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "conductd", cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid enabled", func(c *Config) {}, false},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, true},
		{"bad protocol", func(c *Config) { c.Protocol = "thrift" }, true},
		{"http protocol ok", func(c *Config) { c.Protocol = "http/protobuf" }, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"insecure remote endpoint", func(c *Config) { c.Endpoint = "collector.example.com:4317" }, true},
		{"secure remote endpoint", func(c *Config) {
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, false},
		{"sampling rate out of range", func(c *Config) { c.Sampling.Rate = 1.5 }, true},
		{"non-positive export interval", func(c *Config) { c.Metrics.ExportInterval = 0 }, true},
		{"non-positive shutdown timeout", func(c *Config) { c.Shutdown.Timeout = 0 }, true},
		{"ipv6 loopback ok", func(c *Config) { c.Endpoint = "[::1]:4317" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_DisabledIsNop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("conductd.test")
	_, span := tracer.Start(context.Background(), "test-span")
	span.End()

	tt.AssertSpanExists(t, "test-span")
	assert.Nil(t, tt.SpanByName("other-span"))
}

func TestShutdown_UsesConfiguredTimeout(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Shutdown.Timeout = config.Duration(time.Second)

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}
