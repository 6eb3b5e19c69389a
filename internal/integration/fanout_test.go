package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// captureAdapter records delivered events; fails when broken.
type captureAdapter struct {
	name   string
	broken bool

	mu     sync.Mutex
	events []scheduler.Event
}

func (a *captureAdapter) Name() string { return a.name }

func (a *captureAdapter) Notify(_ context.Context, ev scheduler.Event) error {
	if a.broken {
		return errors.New("adapter down")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *captureAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func TestFanout_DeliversToAllAdapters(t *testing.T) {
	a1 := &captureAdapter{name: "a1"}
	a2 := &captureAdapter{name: "a2"}

	f := NewFanout(zaptest.NewLogger(t), []Adapter{a1, a2}, WithRateLimit(1000, 1000))
	require.NoError(t, f.Start())
	defer f.Stop()

	for i := 0; i < 5; i++ {
		f.Publish(context.Background(), scheduler.Event{Type: scheduler.EventRunStarted, RunID: "r-1"})
	}

	require.Eventually(t, func() bool {
		return a1.count() == 5 && a2.count() == 5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFanout_BrokenAdapterDoesNotStopOthers(t *testing.T) {
	bad := &captureAdapter{name: "bad", broken: true}
	good := &captureAdapter{name: "good"}

	f := NewFanout(zaptest.NewLogger(t), []Adapter{bad, good}, WithRateLimit(1000, 1000))
	require.NoError(t, f.Start())
	defer f.Stop()

	f.Publish(context.Background(), scheduler.Event{Type: scheduler.EventRunCompleted, RunID: "r-1"})

	require.Eventually(t, func() bool {
		return good.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFanout_RateLimitThrottlesDelivery(t *testing.T) {
	a := &captureAdapter{name: "a"}

	// 20 events/s with burst 1: 5 events need roughly 200ms.
	f := NewFanout(zaptest.NewLogger(t), []Adapter{a}, WithRateLimit(20, 1))
	require.NoError(t, f.Start())
	defer f.Stop()

	start := time.Now()
	for i := 0; i < 5; i++ {
		f.Publish(context.Background(), scheduler.Event{Type: scheduler.EventRunStarted, RunID: "r-1"})
	}

	require.Eventually(t, func() bool {
		return a.count() == 5
	}, 5*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestFanout_PublishNeverBlocksWhenQueueFull(t *testing.T) {
	a := &captureAdapter{name: "a"}

	f := NewFanout(zaptest.NewLogger(t), []Adapter{a}, WithQueueSize(1), WithRateLimit(0.001, 1))
	require.NoError(t, f.Start())
	defer f.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			f.Publish(context.Background(), scheduler.Event{Type: scheduler.EventRunStarted, RunID: "r-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestFanout_StartStopLifecycle(t *testing.T) {
	f := NewFanout(zaptest.NewLogger(t), nil)

	require.NoError(t, f.Start())
	assert.Error(t, f.Start(), "second start must fail")

	f.Stop()
	f.Stop() // idempotent

	require.NoError(t, f.Start())
	f.Stop()
}
