package integration

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// Adapter delivers one run lifecycle event to an external system.
// Adapters may ignore event types they have no use for.
type Adapter interface {
	// Name identifies the adapter in logs and errors.
	Name() string

	// Notify delivers ev. It must respect ctx cancellation.
	Notify(ctx context.Context, ev scheduler.Event) error
}

// LogAdapter writes run lifecycle events to the structured log. Useful
// as a durable audit trail when no external sink is configured.
type LogAdapter struct {
	logger *zap.Logger
}

// NewLogAdapter creates a log-backed adapter.
func NewLogAdapter(logger *zap.Logger) *LogAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAdapter{logger: logger}
}

func (a *LogAdapter) Name() string { return "log" }

func (a *LogAdapter) Notify(_ context.Context, ev scheduler.Event) error {
	a.logger.Info("run event",
		zap.String("type", string(ev.Type)),
		zap.String("run_id", ev.RunID),
		zap.String("stage", ev.Stage),
		zap.String("state", string(ev.State)),
		zap.String("verdict", string(ev.Verdict)),
		zap.String("reason", ev.Reason),
	)
	return nil
}
