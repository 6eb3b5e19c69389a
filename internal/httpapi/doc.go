// Package httpapi exposes the conductd REST API.
//
// Endpoints:
//
//	GET  /health                      liveness probe
//	GET  /metrics                     Prometheus metrics
//	POST /api/v1/runs                 start a pipeline run
//	GET  /api/v1/runs                 list runs
//	GET  /api/v1/runs/:id             fetch one run
//	GET  /api/v1/runs/:id/report      outcome report for a run
//	POST /api/v1/runs/:id/cancel      cancel a live run
//	GET  /api/v1/runs/:id/events      SSE stream of run events
//	GET  /api/v1/rules                active gate rules
//	POST /api/v1/feedback             append a verdict correction
//	GET  /api/v1/feedback/stats       correction aggregates per kind
//
// The events stream bridges the NATS run subjects to Server-Sent
// Events; it requires a connected NATS client and returns 503 without
// one.
package httpapi
