package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/conductd/internal/integration"
	"github.com/fyrsmithlabs/conductd/internal/scheduler"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// handleRunEvents streams run events via Server-Sent Events.
//
// The handler subscribes to the run's NATS subjects and forwards each
// message as one SSE event. The connection closes when the run
// completes or the client disconnects.
//
//	GET /api/v1/runs/{id}/events
//
//	event: stage_finished
//	data: {"type":"stage_finished","run_id":"...","stage":"security"}
//
//	event: run_completed
//	data: {"type":"run_completed","run_id":"...","state":"succeeded"}
func (s *Server) handleRunEvents(c echo.Context) error {
	if s.nc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming requires NATS")
	}

	runID := c.Param("id")
	run, err := s.sched.Get(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, scheduler.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch run")
	}
	if run.State.Terminal() {
		return echo.NewHTTPError(http.StatusGone, "run already completed")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	msgChan := make(chan *nats.Msg, 16)
	sub, err := s.nc.ChanSubscribe(integration.RunSubject(runID), msgChan)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			// The event type is the last subject token:
			// conductd.runs.<run_id>.<type>.
			parts := strings.Split(msg.Subject, ".")
			eventType := parts[len(parts)-1]

			fmt.Fprintf(c.Response(), "event: %s\n", eventType)
			fmt.Fprintf(c.Response(), "data: %s\n\n", msg.Data)
			c.Response().Flush()

			if eventType == string(scheduler.EventRunCompleted) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
