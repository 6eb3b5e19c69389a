// Package telemetry provides OpenTelemetry instrumentation for conductd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection
// using the OpenTelemetry Go SDK, exporting to an OTEL Collector over
// OTLP (gRPC or http/protobuf).
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("conductd.scheduler")
//	ctx, span := tracer.Start(ctx, "scheduler.run")
//	defer span.End()
//
//	meter := tel.Meter("conductd.scheduler")
//	counter, _ := meter.Int64Counter("conductd.runs_total")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "conductd"
//	  sampling:
//	    rate: 1.0  # 100% in dev, lower in prod
//	    always_on_errors: true
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not crash the daemon. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op
// providers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
