package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the learner periodically, off the run-critical path.
//
// Thread safety: Start and Stop are safe to call concurrently; the
// running state is mutex-guarded so Start is not re-entrant.
type Scheduler struct {
	interval time.Duration
	learner  *Learner
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the learning interval. Default: 1 hour.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// NewScheduler creates a scheduler around learner. It does not start
// automatically; call Start.
func NewScheduler(learner *Learner, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if learner == nil {
		return nil, fmt.Errorf("scheduler: learner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		interval: time.Hour,
		learner:  learner,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be > 0")
	}
	return s, nil
}

// Start begins periodic learning. Returns an error if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("feedback learner scheduler started",
		zap.Duration("interval", s.interval),
	)

	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop halts the scheduler and waits for any in-flight learning pass.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("feedback learner scheduler stopped")
}

// Running reports whether the scheduler is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

// runOnce executes one learning pass with a bounded deadline.
func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	published, err := s.learner.Learn(ctx)
	if err != nil {
		s.logger.Error("learning pass failed", zap.Error(err))
		return
	}
	if published == nil {
		s.logger.Debug("learning pass made no rule changes")
		return
	}
	s.logger.Info("learning pass published rule revision",
		zap.Int("version", published.Version),
	)
}
