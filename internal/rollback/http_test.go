package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductd/internal/retry"
)

func TestHTTPSnapshotter_CaptureAndRestore(t *testing.T) {
	var restored string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/snapshots":
			var req captureRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "run-1", req.RunID)
			_ = json.NewEncoder(w).Encode(captureResponse{Ref: "snap-7"})
		case "/restore":
			var req restoreRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			restored = req.Ref
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	s, err := NewHTTPSnapshotter(ts.URL, 5*time.Second)
	require.NoError(t, err)

	ref, err := s.Capture(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-7", ref)

	require.NoError(t, s.Restore(context.Background(), ref))
	assert.Equal(t, "snap-7", restored)
}

func TestHTTPSnapshotter_EmptyRefRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(captureResponse{})
	}))
	defer ts.Close()

	s, err := NewHTTPSnapshotter(ts.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = s.Capture(context.Background(), "run-1")
	assert.Error(t, err)
}

func TestHTTPSnapshotter_ErrorClassification(t *testing.T) {
	status := http.StatusInternalServerError
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer ts.Close()

	s, err := NewHTTPSnapshotter(ts.URL, 5*time.Second)
	require.NoError(t, err)

	err = s.Restore(context.Background(), "snap-7")
	require.Error(t, err)
	assert.False(t, errors.Is(err, retry.ErrPermanent), "5xx stays retryable")

	status = http.StatusUnprocessableEntity
	err = s.Restore(context.Background(), "snap-7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, retry.ErrPermanent), "4xx is permanent")
}

func TestNewHTTPSnapshotter_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPSnapshotter("", 0)
	assert.Error(t, err)
}
