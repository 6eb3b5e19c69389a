package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(server.Shutdown)
	return server
}

func TestNATSAdapter_PublishesRunEvents(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync(RunSubject("run-1"))
	require.NoError(t, err)

	adapter, err := NewNATSAdapter(nc, zaptest.NewLogger(t))
	require.NoError(t, err)

	ev := scheduler.Event{
		Type:        scheduler.EventRunCompleted,
		RunID:       "run-1",
		CodeContext: "abc123",
		State:       scheduler.StateSucceeded,
		At:          time.Now().UTC(),
	}
	require.NoError(t, adapter.Notify(context.Background(), ev))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "conductd.runs.run-1.run_completed", msg.Subject)

	var got scheduler.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, scheduler.StateSucceeded, got.State)
	assert.Equal(t, "abc123", got.CodeContext)
}

func TestNATSAdapter_IsolatesRunsBySubject(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync(RunSubject("run-a"))
	require.NoError(t, err)

	adapter, err := NewNATSAdapter(nc, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, adapter.Notify(context.Background(), scheduler.Event{
		Type: scheduler.EventRunStarted, RunID: "run-b", At: time.Now().UTC(),
	}))
	require.NoError(t, adapter.Notify(context.Background(), scheduler.Event{
		Type: scheduler.EventRunStarted, RunID: "run-a", At: time.Now().UTC(),
	}))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, msg.Subject, "run-a")

	_, err = sub.NextMsg(100 * time.Millisecond)
	assert.Error(t, err, "run-b events must not reach the run-a subscriber")
}

func TestNewNATSAdapter_RequiresConnection(t *testing.T) {
	_, err := NewNATSAdapter(nil, nil)
	assert.Error(t, err)
}
