package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/conductd/internal/agent"
	"github.com/fyrsmithlabs/conductd/internal/feedback"
	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/graph"
	"github.com/fyrsmithlabs/conductd/internal/scheduler"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

type harness struct {
	server   *Server
	sched    *scheduler.Scheduler
	runs     scheduler.RunStore
	rules    *gate.Source
	feedback *feedback.MemoryStore
}

func passAgent() agent.Func {
	return func(ctx context.Context, in stage.Input) (*stage.Result, error) {
		return &stage.Result{Status: stage.ResultSucceeded}, nil
	}
}

func newHarness(t *testing.T, agents map[string]stage.Agent, opts ...Option) *harness {
	t.Helper()

	defs := []stage.Definition{
		{Name: "build", Kind: stage.KindAnalysis},
		{Name: "verify", Kind: stage.KindTest, Prerequisites: []string{"build"}},
	}
	g, err := graph.Load(defs)
	require.NoError(t, err)

	reg := agent.NewRegistry()
	if agents == nil {
		agents = map[string]stage.Agent{
			"build":  passAgent(),
			"verify": passAgent(),
		}
	}
	for name, a := range agents {
		require.NoError(t, reg.Register(name, a))
	}

	rules := gate.NewSource(gate.DefaultRuleSet())
	runs := scheduler.NewMemoryRunStore()
	sched, err := scheduler.New(scheduler.DefaultConfig(), g, reg, rules, runs, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	fb := feedback.NewMemoryStore()
	srv, err := NewServer(Config{}, sched, runs, rules, fb, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)

	return &harness{server: srv, sched: sched, runs: runs, rules: rules, feedback: fb}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, echoJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.server.Echo().ServeHTTP(rec, req)
	return rec
}

const (
	echoContentType = "Content-Type"
	echoJSON        = "application/json"
)

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartRun_ReturnsAcceptedRun(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/api/v1/runs", `{"code_context":"abc123"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var run scheduler.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "abc123", run.CodeContext)

	require.NoError(t, h.sched.Wait(context.Background(), run.ID))

	rec = h.do(http.MethodGet, "/api/v1/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, scheduler.StateSucceeded, run.State)
}

func TestStartRun_RequiresCodeContext(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/api/v1/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/runs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/api/v1/runs", `{"code_context":"abc123"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc123")
}

func TestRunReport(t *testing.T) {
	h := newHarness(t, nil)

	var run scheduler.Run
	rec := h.do(http.MethodPost, "/api/v1/runs", `{"code_context":"abc123"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NoError(t, h.sched.Wait(context.Background(), run.ID))

	rec = h.do(http.MethodGet, "/api/v1/runs/"+run.ID+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report scheduler.OutcomeReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, run.ID, report.RunID)
	assert.Equal(t, scheduler.StateSucceeded, report.State)
	assert.False(t, report.NeedsReview)
}

func TestCancelRun(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, map[string]stage.Agent{
		"build": agent.Func(func(ctx context.Context, in stage.Input) (*stage.Result, error) {
			select {
			case <-release:
				return &stage.Result{Status: stage.ResultSucceeded}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
		"verify": passAgent(),
	})
	defer close(release)

	var run scheduler.Run
	rec := h.do(http.MethodPost, "/api/v1/runs", `{"code_context":"abc123"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = h.do(http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, h.sched.Wait(context.Background(), run.ID))
	got, err := h.sched.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateCancelled, got.State)
}

func TestCancelRun_UnknownID(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/api/v1/runs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRulesEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/api/v1/rules", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var rs gate.RuleSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rs))
	assert.Equal(t, 1, rs.Version)
	assert.NotEmpty(t, rs.Rules)
}

func TestFeedback_AppendAndStats(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/feedback",
		`{"finding_id":"f-1","finding_kind":"sql_injection","original_verdict":"block","correction":"false_positive"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var stored feedback.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.NotEmpty(t, stored.ID, "store assigns the record id")
	assert.False(t, stored.CreatedAt.IsZero())

	rec = h.do(http.MethodGet, "/api/v1/feedback/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]feedback.KindStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Contains(t, stats, "sql_injection")
	assert.Equal(t, 1, stats["sql_injection"].FalsePositives)
}

func TestFeedback_RejectsInvalidRecords(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/feedback", `{"finding_id":"f-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/feedback",
		`{"finding_id":"f-1","finding_kind":"k","correction":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{}, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
