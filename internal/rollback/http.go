package rollback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/conductd/internal/retry"
)

// HTTPSnapshotter talks to a deployment system over HTTP. Capture POSTs
// to {base}/snapshots and expects a snapshot reference back; Restore
// POSTs the reference to {base}/restore. Client errors (4xx) are
// permanent; server errors (5xx) are left retryable.
type HTTPSnapshotter struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSnapshotter creates a snapshotter against a deployment system
// base URL.
func NewHTTPSnapshotter(baseURL string, timeout time.Duration) (*HTTPSnapshotter, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("snapshotter: base url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPSnapshotter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type captureRequest struct {
	RunID string `json:"run_id"`
}

type captureResponse struct {
	Ref string `json:"ref"`
}

type restoreRequest struct {
	Ref string `json:"ref"`
}

// Capture implements Snapshotter.
func (s *HTTPSnapshotter) Capture(ctx context.Context, runID string) (string, error) {
	body, err := s.post(ctx, s.baseURL+"/snapshots", captureRequest{RunID: runID})
	if err != nil {
		return "", err
	}

	var resp captureResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode snapshot response: %w", err)
	}
	if resp.Ref == "" {
		return "", fmt.Errorf("deployment system returned an empty snapshot ref")
	}
	return resp.Ref, nil
}

// Restore implements Snapshotter.
func (s *HTTPSnapshotter) Restore(ctx context.Context, ref string) error {
	_, err := s.post(ctx, s.baseURL+"/restore", restoreRequest{Ref: ref})
	return err
}

func (s *HTTPSnapshotter) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("deployment system returned %d: %s", resp.StatusCode, respBody)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return respBody, nil
}

var _ Snapshotter = (*HTTPSnapshotter)(nil)
