package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/conductd/internal/retry"
	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

type statusRequest struct {
	State       string `json:"state"`
	Context     string `json:"context"`
	Description string `json:"description"`
}

// statusRecorder fakes the GitHub commit-status endpoint.
type statusRecorder struct {
	mu       sync.Mutex
	requests []statusRequest
	paths    []string
	failures int
}

func (r *statusRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.failures > 0 {
			r.failures--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var sr statusRequest
		_ = json.NewDecoder(req.Body).Decode(&sr)
		r.requests = append(r.requests, sr)
		r.paths = append(r.paths, req.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}
}

func (r *statusRecorder) recorded() []statusRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusRequest(nil), r.requests...)
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newTestGitHubAdapter(t *testing.T, rec *statusRecorder) *GitHubAdapter {
	t.Helper()
	srv := httptest.NewServer(rec.handler())
	t.Cleanup(srv.Close)

	a, err := NewGitHubAdapter(GitHubConfig{
		Owner:   "fyrsmithlabs",
		Repo:    "conductd",
		Token:   "test-token",
		BaseURL: srv.URL + "/",
	}, fastRetry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return a
}

func TestGitHubAdapter_PostsStatusForRunTransitions(t *testing.T) {
	rec := &statusRecorder{}
	a := newTestGitHubAdapter(t, rec)
	ctx := context.Background()

	require.NoError(t, a.Notify(ctx, scheduler.Event{
		Type: scheduler.EventRunStarted, RunID: "r-1", CodeContext: "abc123", At: time.Now(),
	}))
	require.NoError(t, a.Notify(ctx, scheduler.Event{
		Type: scheduler.EventRunCompleted, RunID: "r-1", CodeContext: "abc123",
		State: scheduler.StateBlocked, Reason: scheduler.ReasonGateBlocked, At: time.Now(),
	}))

	got := rec.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, "pending", got[0].State)
	assert.Equal(t, "failure", got[1].State)
	assert.Equal(t, "conductd/pipeline", got[0].Context)
	assert.Contains(t, got[1].Description, "quality gate")
	assert.Contains(t, rec.paths[0], "/repos/fyrsmithlabs/conductd/statuses/abc123")
}

func TestGitHubAdapter_IgnoresStageEvents(t *testing.T) {
	rec := &statusRecorder{}
	a := newTestGitHubAdapter(t, rec)

	require.NoError(t, a.Notify(context.Background(), scheduler.Event{
		Type: scheduler.EventStageFinished, RunID: "r-1", CodeContext: "abc123", Stage: "security",
	}))
	assert.Empty(t, rec.recorded())
}

func TestGitHubAdapter_RetriesServerErrors(t *testing.T) {
	rec := &statusRecorder{failures: 2}
	a := newTestGitHubAdapter(t, rec)

	require.NoError(t, a.Notify(context.Background(), scheduler.Event{
		Type: scheduler.EventRunStarted, RunID: "r-1", CodeContext: "abc123",
	}))
	require.Len(t, rec.recorded(), 1)
}

func TestGitHubAdapter_FailsWithoutRef(t *testing.T) {
	rec := &statusRecorder{}
	a := newTestGitHubAdapter(t, rec)

	err := a.Notify(context.Background(), scheduler.Event{
		Type: scheduler.EventRunStarted, RunID: "r-1",
	})
	assert.Error(t, err)
}

func TestNewGitHubAdapter_Validation(t *testing.T) {
	_, err := NewGitHubAdapter(GitHubConfig{Repo: "x", Token: "t"}, fastRetry(), nil)
	assert.Error(t, err)

	_, err = NewGitHubAdapter(GitHubConfig{Owner: "o", Repo: "x"}, fastRetry(), nil)
	assert.Error(t, err)
}
