package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/conductd/internal/retry"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

// HTTPAgent invokes a remote worker over HTTP. The worker receives the
// stage input as JSON and answers with a stage result. Client errors
// (4xx) are permanent; server errors (5xx) are left retryable.
type HTTPAgent struct {
	endpoint   string
	httpClient *http.Client
}

// invokeError is the error body a remote worker may return.
type invokeError struct {
	Error string `json:"error"`
}

// NewHTTPAgent creates an agent that POSTs stage inputs to endpoint.
func NewHTTPAgent(endpoint string, timeout time.Duration) (*HTTPAgent, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("agent: endpoint is required")
	}
	if timeout <= 0 {
		timeout = stage.DefaultTimeout
	}

	return &HTTPAgent{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Invoke implements stage.Agent.
func (a *HTTPAgent) Invoke(ctx context.Context, in stage.Input) (*stage.Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode stage input: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Run-ID", in.RunID)
	req.Header.Set("X-Stage", in.StageName)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", a.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var werr invokeError
		msg := string(respBody)
		if json.Unmarshal(respBody, &werr) == nil && werr.Error != "" {
			msg = werr.Error
		}
		err := fmt.Errorf("worker returned %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var result stage.Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode stage result: %w", err)
	}
	return &result, nil
}
