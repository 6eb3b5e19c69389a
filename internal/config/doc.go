// Package config loads conductd configuration.
//
// Two files drive the daemon:
//
//   - config.yaml: daemon settings (server address, integrations,
//     feedback learner cadence). Loaded by Load with environment
//     variable overrides under the CONDUCTD_ prefix.
//   - pipeline.yaml: the pipeline definition (stages, retry policies,
//     gate rules, per-project overlays). Loaded by LoadPipeline.
//
// Configuration precedence for the daemon file, highest first:
//
//  1. Environment variables (CONDUCTD_SERVER_LISTEN_ADDR, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Subsystems that own their configuration (logging, telemetry) keep
// their Config types in their own packages; callers unmarshal those
// sections with Config.Section:
//
//	cfg, err := config.Load(path)
//	logCfg := logging.NewDefaultConfig()
//	err = cfg.Section("logging", logCfg)
//
// The Watcher reloads the pipeline file on change and publishes the
// revised gate rules without a daemon restart.
package config
