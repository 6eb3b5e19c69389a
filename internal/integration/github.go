package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/conductd/internal/retry"
	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// GitHubConfig configures the commit-status adapter.
type GitHubConfig struct {
	// Owner and Repo address the repository receiving statuses.
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`

	// Token authenticates against the GitHub API.
	Token string `koanf:"token"`

	// BaseURL overrides the API endpoint, for GitHub Enterprise or tests.
	BaseURL string `koanf:"base_url"`

	// StatusContext labels the status line on the commit. Default
	// "conductd/pipeline".
	StatusContext string `koanf:"status_context"`
}

// Validate checks the configuration.
func (c GitHubConfig) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return fmt.Errorf("github adapter: owner and repo are required")
	}
	if c.Token == "" {
		return fmt.Errorf("github adapter: token is required")
	}
	return nil
}

// GitHubAdapter posts commit statuses for run transitions. The event's
// code context is used as the commit ref.
type GitHubAdapter struct {
	config GitHubConfig
	client *github.Client
	policy retry.Policy
	logger *zap.Logger
}

// NewGitHubAdapter creates the adapter. Transient API failures are
// retried under policy.
func NewGitHubAdapter(cfg GitHubConfig, policy retry.Policy, logger *zap.Logger) (*GitHubAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy.ApplyDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("github adapter: %w", err)
	}
	if cfg.StatusContext == "" {
		cfg.StatusContext = "conductd/pipeline"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	client := github.NewClient(tc)
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github adapter: parse base url: %w", err)
		}
		client.BaseURL = base
	}

	return &GitHubAdapter{
		config: cfg,
		client: client,
		policy: policy,
		logger: logger,
	}, nil
}

func (a *GitHubAdapter) Name() string { return "github" }

// Notify maps run lifecycle events to commit statuses. Stage-level
// events are ignored; only run transitions reach the commit.
func (a *GitHubAdapter) Notify(ctx context.Context, ev scheduler.Event) error {
	state, description := statusFor(ev)
	if state == "" {
		return nil
	}
	if ev.CodeContext == "" {
		return fmt.Errorf("github adapter: event %s has no code context to address", ev.Type)
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Context:     github.String(a.config.StatusContext),
		Description: github.String(description),
	}

	classify := func(err error) bool {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) {
			// 4xx responses will not get better on retry.
			return ghErr.Response != nil && ghErr.Response.StatusCode >= 500
		}
		return retry.DefaultClassifier(err)
	}

	err := retry.Do(ctx, a.policy, classify, func(ctx context.Context, attempt int) error {
		_, _, err := a.client.Repositories.CreateStatus(ctx, a.config.Owner, a.config.Repo, ev.CodeContext, status)
		return err
	})
	if err != nil {
		return fmt.Errorf("create commit status for %s: %w", ev.CodeContext, err)
	}

	a.logger.Debug("posted commit status",
		zap.String("run_id", ev.RunID),
		zap.String("ref", ev.CodeContext),
		zap.String("state", state),
	)
	return nil
}

// statusFor maps a run event to a GitHub commit-status state. An empty
// state means the event carries no status.
func statusFor(ev scheduler.Event) (state, description string) {
	switch ev.Type {
	case scheduler.EventRunStarted:
		return "pending", "pipeline run in progress"
	case scheduler.EventRunCompleted:
		switch ev.State {
		case scheduler.StateSucceeded:
			return "success", "all stages passed"
		case scheduler.StateBlocked:
			return "failure", "blocked by quality gate: " + ev.Reason
		case scheduler.StateRolledBack:
			return "failure", "deployment rolled back"
		case scheduler.StateFailed:
			return "error", "pipeline failed: " + ev.Reason
		case scheduler.StateCancelled:
			return "error", "pipeline cancelled"
		}
	}
	return "", ""
}
