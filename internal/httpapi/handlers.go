package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/feedback"
	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// StartRunRequest is the request body for POST /api/v1/runs.
type StartRunRequest struct {
	// CodeContext identifies the code under delivery, typically a
	// commit SHA.
	CodeContext string `json:"code_context"`
}

func (s *Server) handleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CodeContext == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code_context field is required")
	}

	run, err := s.sched.StartRun(c.Request().Context(), req.CodeContext)
	if err != nil {
		s.logger.Error("failed to start run", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	return c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleListRuns(c echo.Context) error {
	runs, err := s.runs.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.sched.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch run")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunReport(c echo.Context) error {
	report, err := s.sched.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build report")
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleCancelRun(c echo.Context) error {
	if err := s.sched.Cancel(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no live run with that id")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleRules(c echo.Context) error {
	return c.JSON(http.StatusOK, s.rules.Current())
}

func (s *Server) handleAppendFeedback(c echo.Context) error {
	var rec feedback.Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.feedback.Append(c.Request().Context(), &rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.logger.Info("feedback recorded",
		zap.String("record_id", rec.ID),
		zap.String("finding_kind", rec.FindingKind),
		zap.String("correction", string(rec.Correction)))
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleFeedbackStats(c echo.Context) error {
	stats, err := s.feedback.StatsByKind(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to aggregate feedback")
	}
	return c.JSON(http.StatusOK, stats)
}
