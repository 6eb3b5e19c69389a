// Package logging provides structured logging with OpenTelemetry
// integration.
//
// It wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, run_id, stage)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithRun(ctx, runID)
//	ctx = logging.WithStage(ctx, "security")
//	logger.Info(ctx, "stage finished", zap.String("verdict", "pass"))
//
// Output carries the correlation automatically:
//
//	{
//	  "ts": "2026-08-26T10:15:30Z",
//	  "level": "info",
//	  "msg": "stage finished",
//	  "trace_id": "abc123",
//	  "run_id": "9f2c...",
//	  "stage": "security",
//	  "verdict": "pass"
//	}
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
