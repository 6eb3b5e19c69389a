package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductd/internal/retry"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

func TestHTTPAgent_InvokeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "run-1", r.Header.Get("X-Run-ID"))

		var in stage.Input
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "security", in.StageName)

		json.NewEncoder(w).Encode(stage.Result{
			Status:     stage.ResultSucceeded,
			Confidence: 0.9,
			Findings: []stage.Finding{
				{ID: "f-1", Kind: "xss", Severity: stage.SeverityLow, Confidence: 0.7, Message: "escaped output missing"},
			},
		})
	}))
	defer srv.Close()

	a, err := NewHTTPAgent(srv.URL, time.Second)
	require.NoError(t, err)

	res, err := a.Invoke(context.Background(), stage.Input{StageName: "security", RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, stage.ResultSucceeded, res.Status)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "xss", res.Findings[0].Kind)
}

func TestHTTPAgent_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown stage"})
	}))
	defer srv.Close()

	a, err := NewHTTPAgent(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), stage.Input{StageName: "bogus", RunID: "run-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrPermanent)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestHTTPAgent_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := NewHTTPAgent(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), stage.Input{StageName: "security", RunID: "run-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, retry.ErrPermanent)
}

func TestHTTPAgent_HonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	a, err := NewHTTPAgent(srv.URL, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = a.Invoke(ctx, stage.Input{StageName: "security", RunID: "run-1"})
	assert.Error(t, err)
}

func TestNewHTTPAgent_Validation(t *testing.T) {
	_, err := NewHTTPAgent("", time.Second)
	assert.Error(t, err)
}
