package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// defaultQueueSize bounds buffered, undelivered events. Beyond it,
// events are dropped with a log line rather than stalling the run.
const defaultQueueSize = 256

// deliveryTimeout bounds one adapter call.
const deliveryTimeout = 10 * time.Second

// Fanout distributes run events to all registered adapters from a
// single background worker. It implements scheduler.Sink: Publish never
// blocks the caller beyond an enqueue.
type Fanout struct {
	adapters []Adapter
	limiter  *rate.Limiter
	logger   *zap.Logger
	queue    chan scheduler.Event

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithRateLimit caps outbound deliveries per second with the given
// burst. Default: 10 events/s, burst 20.
func WithRateLimit(perSecond float64, burst int) FanoutOption {
	return func(f *Fanout) {
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithQueueSize overrides the buffered event queue size.
func WithQueueSize(n int) FanoutOption {
	return func(f *Fanout) {
		if n > 0 {
			f.queue = make(chan scheduler.Event, n)
		}
	}
}

// NewFanout creates a fan-out over the given adapters.
func NewFanout(logger *zap.Logger, adapters []Adapter, opts ...FanoutOption) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{
		adapters: adapters,
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
		logger:   logger,
		queue:    make(chan scheduler.Event, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the delivery worker.
func (f *Fanout) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("fanout already running")
	}
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.running = true

	go f.deliverLoop(f.stopCh, f.doneCh)
	f.logger.Info("integration fan-out started", zap.Int("adapters", len(f.adapters)))
	return nil
}

// Stop drains nothing: queued events not yet delivered are dropped.
// Stopping a stopped fan-out is a no-op.
func (f *Fanout) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	close(f.stopCh)
	done := f.doneCh
	f.running = false
	f.mu.Unlock()

	<-done
	f.logger.Info("integration fan-out stopped")
}

// Publish implements scheduler.Sink. A full queue drops the event.
func (f *Fanout) Publish(_ context.Context, ev scheduler.Event) {
	select {
	case f.queue <- ev:
	default:
		f.logger.Warn("event queue full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("run_id", ev.RunID),
		)
	}
}

func (f *Fanout) deliverLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case ev := <-f.queue:
			f.deliver(stopCh, ev)
		}
	}
}

func (f *Fanout) deliver(stopCh chan struct{}, ev scheduler.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	// Rate limit applies per event, not per adapter; adapters see the
	// same event at the same moment.
	if err := f.waitLimiter(ctx, stopCh); err != nil {
		return
	}

	for _, a := range f.adapters {
		if err := a.Notify(ctx, ev); err != nil {
			f.logger.Warn("adapter delivery failed",
				zap.String("adapter", a.Name()),
				zap.String("type", string(ev.Type)),
				zap.String("run_id", ev.RunID),
				zap.Error(err),
			)
		}
	}
}

func (f *Fanout) waitLimiter(ctx context.Context, stopCh chan struct{}) error {
	// rate.Limiter.Wait has no stop channel; bridge through context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return f.limiter.Wait(ctx)
}
