package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/feedback"
	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// Config holds HTTP server settings.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// Server serves the conductd REST API.
type Server struct {
	echo     *echo.Echo
	sched    *scheduler.Scheduler
	runs     scheduler.RunStore
	rules    *gate.Source
	feedback feedback.Store
	nc       *nats.Conn
	logger   *zap.Logger
	config   Config
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithNATS enables the SSE event stream backed by the given connection.
func WithNATS(nc *nats.Conn) Option {
	return func(s *Server) {
		s.nc = nc
	}
}

// NewServer creates the API server.
func NewServer(cfg Config, sched *scheduler.Scheduler, runs scheduler.RunStore, rules *gate.Source, fb feedback.Store, logger *zap.Logger, opts ...Option) (*Server, error) {
	if sched == nil {
		return nil, fmt.Errorf("httpapi: scheduler is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("httpapi: run store is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("httpapi: rule source is required")
	}
	if fb == nil {
		return nil, fmt.Errorf("httpapi: feedback store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9820"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		sched:    sched,
		runs:     runs,
		rules:    rules,
		feedback: fb,
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/report", s.handleRunReport)
	v1.POST("/runs/:id/cancel", s.handleCancelRun)
	v1.GET("/runs/:id/events", s.handleRunEvents)
	v1.GET("/rules", s.handleRules)
	v1.POST("/feedback", s.handleAppendFeedback)
	v1.GET("/feedback/stats", s.handleFeedbackStats)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "conductd"})
}

// Start starts the HTTP server and blocks until it shuts down.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.ListenAddr))
	return s.echo.Start(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo returns the router for registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
