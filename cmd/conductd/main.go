// Conductd is the gated delivery pipeline daemon.
//
// It executes pipeline runs as dependency-ordered stages, gates each
// stage's findings against versioned quality rules, rolls back failed
// deployments, and revises the rules from recorded human feedback.
//
// Usage:
//
//	# Start the daemon with defaults
//	conductd
//
//	# Point at explicit config and show version
//	conductd -config /etc/conductd/config.yaml
//	conductd version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/agent"
	"github.com/fyrsmithlabs/conductd/internal/config"
	"github.com/fyrsmithlabs/conductd/internal/feedback"
	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/httpapi"
	"github.com/fyrsmithlabs/conductd/internal/integration"
	"github.com/fyrsmithlabs/conductd/internal/logging"
	"github.com/fyrsmithlabs/conductd/internal/retry"
	"github.com/fyrsmithlabs/conductd/internal/rollback"
	"github.com/fyrsmithlabs/conductd/internal/scheduler"
	"github.com/fyrsmithlabs/conductd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  conductd           Start the conductd daemon\n")
			fmt.Fprintf(os.Stderr, "  conductd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("conductd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until ctx is cancelled.
//
//  1. Loads configuration and the pipeline definition
//  2. Initializes logging and telemetry
//  3. Builds the agent registry, gate rules, and scheduler
//  4. Connects integrations (NATS, GitHub) behind the event fanout
//  5. Starts the feedback learner and the pipeline file watcher
//  6. Serves the REST API until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	telCfg := telemetry.NewDefaultConfig()
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return err
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Underlying()

	zlog.Info("Starting conductd",
		zap.String("version", version),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("pipeline", cfg.Pipeline.Path))

	pipe, err := config.LoadPipeline(cfg.Pipeline.Path)
	if err != nil {
		return fmt.Errorf("invalid pipeline: %w", err)
	}
	g, err := pipe.Graph()
	if err != nil {
		return err
	}

	registry, err := buildRegistry(pipe)
	if err != nil {
		return err
	}

	rules := gate.NewSource(pipe.Rules(""))

	deps, err := initIntegrations(cfg, zlog)
	if err != nil {
		return err
	}
	defer deps.Close()

	fanout := integration.NewFanout(zlog, deps.adapters)
	if err := fanout.Start(); err != nil {
		return err
	}
	defer fanout.Stop()

	schedCfg := scheduler.Config{
		MaxConcurrentStages: cfg.Runner.MaxConcurrentStages,
		DefaultPolicy:       pipe.DefaultPolicy(),
		Policies:            pipe.Policies,
	}

	opts := []scheduler.Option{scheduler.WithSink(fanout)}
	if cfg.Rollback.Enabled {
		snapshots, err := rollback.NewHTTPSnapshotter(cfg.Rollback.BaseURL, cfg.Rollback.Timeout.Duration())
		if err != nil {
			return err
		}
		ctrl, err := rollback.NewController(snapshots, pipe.DefaultPolicy(), zlog)
		if err != nil {
			return err
		}
		opts = append(opts, scheduler.WithRollback(ctrl))
		zlog.Info("Rollback enabled", zap.String("base_url", cfg.Rollback.BaseURL))
	}

	runs := scheduler.NewMemoryRunStore()
	sched, err := scheduler.New(schedCfg, g, registry, rules, runs, zlog, opts...)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = sched.Shutdown(shutdownCtx)
	}()

	fbStore := feedback.NewMemoryStore()
	learner, err := feedback.NewLearner(cfg.Feedback.Learner, fbStore, rules, zlog)
	if err != nil {
		return err
	}
	fbSched, err := feedback.NewScheduler(learner, zlog,
		feedback.WithInterval(cfg.Feedback.ReviseInterval.Duration()))
	if err != nil {
		return err
	}
	if err := fbSched.Start(); err != nil {
		return err
	}
	defer fbSched.Stop()

	if cfg.Pipeline.Watch {
		watcher, err := config.NewWatcher(cfg.Pipeline.Path, rules, zlog)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	apiOpts := []httpapi.Option{}
	if deps.natsConn != nil {
		apiOpts = append(apiOpts, httpapi.WithNATS(deps.natsConn))
	}
	srv, err := httpapi.NewServer(httpapi.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}, sched, runs, rules, fbStore, zlog, apiOpts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	zlog.Info("Daemon ready",
		zap.Int("stages", g.Len()),
		zap.Int("rule_version", rules.Current().Version),
		zap.Bool("nats", deps.natsConn != nil),
		zap.Bool("github", cfg.GitHub.Enabled))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

// buildRegistry binds every pipeline stage to its HTTP worker.
func buildRegistry(pipe *config.Pipeline) (agent.Registry, error) {
	registry := agent.NewRegistry()
	for _, def := range pipe.Stages {
		spec, ok := pipe.Agents[def.Name]
		if !ok {
			return nil, fmt.Errorf("pipeline: stage %q has no agent endpoint", def.Name)
		}
		a, err := agent.NewHTTPAgent(spec.Endpoint, spec.Timeout.Duration())
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", def.Name, err)
		}
		if err := registry.Register(def.Name, a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// dependencies holds external integration handles.
type dependencies struct {
	natsConn *nats.Conn
	adapters []integration.Adapter
}

// Close releases integration resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initIntegrations connects the configured external systems and builds
// the event adapters for the fanout.
func initIntegrations(cfg *config.Config, zlog *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc

		adapter, err := integration.NewNATSAdapter(nc, zlog)
		if err != nil {
			nc.Close()
			return nil, err
		}
		deps.adapters = append(deps.adapters, adapter)
		zlog.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	if cfg.GitHub.Enabled {
		adapter, err := integration.NewGitHubAdapter(integration.GitHubConfig{
			Owner:         cfg.GitHub.Owner,
			Repo:          cfg.GitHub.Repo,
			Token:         cfg.GitHub.Token.Value(),
			BaseURL:       cfg.GitHub.BaseURL,
			StatusContext: cfg.GitHub.StatusContext,
		}, retry.DefaultPolicy(), zlog)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.adapters = append(deps.adapters, adapter)
		zlog.Info("GitHub status reporting enabled",
			zap.String("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo))
	}

	return deps, nil
}
