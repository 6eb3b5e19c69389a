// Package rollback restores the last known-healthy deployment when a
// deploy-kind stage fails after having previously succeeded in the same
// run. Rollback is attempted at most once per run and is retried under
// the same backoff discipline as any stage; an exhausted rollback is the
// one failure the pipeline cannot self-heal from.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/retry"
)

const instrumentationName = "github.com/fyrsmithlabs/conductd/internal/rollback"

// ErrRollbackFailed marks a run whose rollback exhausted its retries.
// Reason code for operators: manual intervention required.
var ErrRollbackFailed = errors.New("rollback_failed")

// ErrNoSnapshot indicates no healthy snapshot was recorded for the run.
var ErrNoSnapshot = errors.New("no healthy snapshot recorded")

// Snapshotter captures and restores deployment snapshots. Implementations
// talk to whatever actually holds deployment state; the controller only
// needs opaque references.
type Snapshotter interface {
	// Capture records the current deployment state as a snapshot and
	// returns a reference to it.
	Capture(ctx context.Context, runID string) (string, error)

	// Restore reinstates the snapshot behind ref.
	Restore(ctx context.Context, ref string) error
}

// Status tracks a rollback attempt's lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the audit record of one rollback.
type Record struct {
	RunID       string    `json:"run_id"`
	SnapshotRef string    `json:"snapshot_ref"`
	Reason      string    `json:"reason"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Controller owns rollback decisions for runs.
type Controller struct {
	snapshots Snapshotter
	policy    retry.Policy
	logger    *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	rollbackCounter metric.Int64Counter

	mu       sync.Mutex
	healthy  map[string]string  // runID -> last healthy snapshot ref
	attempts map[string]*Record // runID -> rollback record, at most one
}

// NewController creates a rollback controller.
func NewController(snapshots Snapshotter, policy retry.Policy, logger *zap.Logger) (*Controller, error) {
	if snapshots == nil {
		return nil, errors.New("rollback: snapshotter is required")
	}
	policy.ApplyDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		snapshots: snapshots,
		policy:    policy,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		healthy:   make(map[string]string),
		attempts:  make(map[string]*Record),
	}

	var err error
	c.rollbackCounter, err = c.meter.Int64Counter(
		"conductd.rollback.attempts_total",
		metric.WithDescription("Total rollback attempts by outcome"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		c.logger.Warn("failed to create rollback counter", zap.Error(err))
	}

	return c, nil
}

// RecordHealthy captures a snapshot after a deploy stage succeeds, so a
// later failure in the same run has somewhere to roll back to.
func (c *Controller) RecordHealthy(ctx context.Context, runID string) error {
	ref, err := c.snapshots.Capture(ctx, runID)
	if err != nil {
		return fmt.Errorf("capture healthy snapshot: %w", err)
	}

	c.mu.Lock()
	c.healthy[runID] = ref
	c.mu.Unlock()

	c.logger.Info("recorded healthy deployment snapshot",
		zap.String("run_id", runID),
		zap.String("snapshot_ref", ref),
	)
	return nil
}

// HasHealthy reports whether a healthy snapshot exists for the run.
func (c *Controller) HasHealthy(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.healthy[runID]
	return ok
}

// Rollback restores the run's last healthy snapshot. It is triggered at
// most once per run: a second call returns the first call's record.
// Exhausted retries return a failed record and ErrRollbackFailed.
func (c *Controller) Rollback(ctx context.Context, runID, reason string) (*Record, error) {
	ctx, span := c.tracer.Start(ctx, "rollback.execute")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	c.mu.Lock()
	if rec, ok := c.attempts[runID]; ok {
		c.mu.Unlock()
		return rec, nil
	}
	ref, ok := c.healthy[runID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoSnapshot)
	}
	rec := &Record{
		RunID:       runID,
		SnapshotRef: ref,
		Reason:      reason,
		Status:      StatusPending,
		StartedAt:   time.Now().UTC(),
	}
	c.attempts[runID] = rec
	c.mu.Unlock()

	c.logger.Warn("rolling back deployment",
		zap.String("run_id", runID),
		zap.String("snapshot_ref", ref),
		zap.String("reason", reason),
	)

	err := retry.Do(ctx, c.policy, retry.DefaultClassifier, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.logger.Info("retrying rollback",
				zap.String("run_id", runID),
				zap.Int("attempt", attempt),
			)
		}
		return c.snapshots.Restore(ctx, ref)
	})

	c.mu.Lock()
	rec.CompletedAt = time.Now().UTC()
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = StatusCompleted
	}
	c.mu.Unlock()

	if c.rollbackCounter != nil {
		c.rollbackCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(rec.Status)),
		))
	}

	if err != nil {
		c.logger.Error("rollback exhausted retries, manual intervention required",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return rec, fmt.Errorf("run %s: %w: %w", runID, ErrRollbackFailed, err)
	}

	c.logger.Info("rollback completed",
		zap.String("run_id", runID),
		zap.String("snapshot_ref", ref),
	)
	return rec, nil
}

// Forget drops bookkeeping for a finished run.
func (c *Controller) Forget(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.healthy, runID)
	delete(c.attempts, runID)
}
