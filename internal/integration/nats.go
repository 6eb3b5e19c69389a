package integration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// SubjectPrefix roots all run event subjects. One subject per run and
// event type: <prefix>.<run_id>.<event_type>.
const SubjectPrefix = "conductd.runs"

// RunSubject returns the wildcard subject covering every event of a run.
func RunSubject(runID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, runID)
}

// NATSAdapter publishes run lifecycle events as JSON messages. Streaming
// consumers (the SSE bridge included) subscribe per run.
type NATSAdapter struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSAdapter creates the adapter over an established connection.
// The adapter does not own the connection.
func NewNATSAdapter(conn *nats.Conn, logger *zap.Logger) (*NATSAdapter, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats adapter: connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSAdapter{conn: conn, logger: logger}, nil
}

func (a *NATSAdapter) Name() string { return "nats" }

func (a *NATSAdapter) Notify(_ context.Context, ev scheduler.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", SubjectPrefix, ev.RunID, ev.Type)
	if err := a.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
