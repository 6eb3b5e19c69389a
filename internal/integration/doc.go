// Package integration delivers run lifecycle events to external
// systems: source-control commit statuses, NATS subjects for streaming
// consumers, and logs. Adapters hang off a rate-limited fan-out that
// implements the scheduler's event sink, so a flapping adapter can
// neither block the event loop nor flood an external API.
package integration
