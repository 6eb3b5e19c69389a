package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/conductd/internal/feedback"
)

const (
	// maxConfigFileSize caps config files at 1MB.
	maxConfigFileSize = 1024 * 1024

	// envPrefix scopes environment overrides to conductd.
	envPrefix = "CONDUCTD_"
)

// Config holds the daemon configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Pipeline PipelineRef    `koanf:"pipeline"`
	Runner   RunnerConfig   `koanf:"runner"`
	Feedback FeedbackConfig `koanf:"feedback"`
	Rollback RollbackConfig `koanf:"rollback"`
	GitHub   GitHubConfig   `koanf:"github"`
	NATS     NATSConfig     `koanf:"nats"`

	// raw keeps the loaded tree so callers can unmarshal sections
	// owned by other packages (logging, telemetry).
	raw *koanf.Koanf
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	ListenAddr      string   `koanf:"listen_addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// PipelineRef points at the pipeline definition file.
type PipelineRef struct {
	Path string `koanf:"path"`

	// Watch reloads gate rules when the pipeline file changes.
	Watch bool `koanf:"watch"`
}

// RunnerConfig bounds run execution.
type RunnerConfig struct {
	MaxConcurrentStages int `koanf:"max_concurrent_stages"`
}

// FeedbackConfig tunes the correction learner.
type FeedbackConfig struct {
	Learner        feedback.LearnerConfig `koanf:"learner"`
	ReviseInterval Duration               `koanf:"revise_interval"`
}

// RollbackConfig points at the deployment system used to capture and
// restore snapshots. Disabled deploys run without rollback protection.
type RollbackConfig struct {
	Enabled bool     `koanf:"enabled"`
	BaseURL string   `koanf:"base_url"`
	Timeout Duration `koanf:"timeout"`
}

// GitHubConfig holds commit status reporting settings.
type GitHubConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Owner         string `koanf:"owner"`
	Repo          string `koanf:"repo"`
	Token         Secret `koanf:"token"`
	BaseURL       string `koanf:"base_url"`
	StatusContext string `koanf:"status_context"`
}

// NATSConfig holds run event streaming settings.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// NewDefaultConfig returns the daemon defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":9820",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Pipeline: PipelineRef{
			Path:  "pipeline.yaml",
			Watch: true,
		},
		Runner: RunnerConfig{
			MaxConcurrentStages: 8,
		},
		Feedback: FeedbackConfig{
			Learner:        feedback.DefaultLearnerConfig(),
			ReviseInterval: Duration(time.Hour),
		},
		Rollback: RollbackConfig{
			Timeout: Duration(30 * time.Second),
		},
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
	}
}

// Load loads configuration from a YAML file, then overrides with
// CONDUCTD_-prefixed environment variables. An empty path skips the
// file and loads defaults plus environment only.
//
// Environment variables map section_field, split on the first
// underscore after the prefix:
//
//	CONDUCTD_SERVER_LISTEN_ADDR   -> server.listen_addr
//	CONDUCTD_GITHUB_TOKEN         -> github.token
//	CONDUCTD_RUNNER_MAX_CONCURRENT_STAGES -> runner.max_concurrent_stages
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			content, err := readConfigFile(path)
			if err != nil {
				return nil, err
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// CONDUCTD_SERVER_LISTEN_ADDR -> server.listen_addr.
		// Split on the first underscore only; field names keep theirs.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.raw = k

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Section unmarshals a config subtree into out, for sections owned by
// other packages (logging, telemetry). out keeps its preset defaults
// for keys absent from the tree.
func (c *Config) Section(key string, out any) error {
	if c.raw == nil {
		return nil
	}
	if err := c.raw.Unmarshal(key, out); err != nil {
		return fmt.Errorf("failed to unmarshal config section %q: %w", key, err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Pipeline.Path == "" {
		return fmt.Errorf("pipeline.path is required")
	}
	if c.Runner.MaxConcurrentStages < 1 {
		return fmt.Errorf("runner.max_concurrent_stages must be >= 1, got %d", c.Runner.MaxConcurrentStages)
	}
	if err := c.Feedback.Learner.Validate(); err != nil {
		return err
	}
	if c.Feedback.ReviseInterval.Duration() <= 0 {
		return fmt.Errorf("feedback.revise_interval must be positive")
	}
	if c.Rollback.Enabled && c.Rollback.BaseURL == "" {
		return fmt.Errorf("rollback.base_url is required when rollback is enabled")
	}
	if c.GitHub.Enabled {
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return fmt.Errorf("github.owner and github.repo are required when github is enabled")
		}
		if !c.GitHub.Token.IsSet() {
			return fmt.Errorf("github.token is required when github is enabled")
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	return nil
}

// readConfigFile opens, validates, and reads a config file. Validation
// uses the already-open file descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties checks file permissions and size. The
// daemon config may carry tokens, so world-readable files are rejected.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip permission checks on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
