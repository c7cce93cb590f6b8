package web

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/session"
)

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Session session.Status `json:"session"`
	Stats   session.Stats  `json:"stats"`
	Uptime  string         `json:"uptime"`
	Version string         `json:"version,omitempty"`
}

// handleStatus returns the live session status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		Session: s.engine.State(),
		Stats:   s.engine.Stats(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Version: s.config.Version,
	})
}

// handleEvents returns the event log, optionally only events after ?since=seq
func (s *Server) handleEvents(c *fiber.Ctx) error {
	since := c.QueryInt("since", 0)
	if since < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "since must be >= 0",
		})
	}

	evs := s.engine.EventsSince(uint64(since))
	if typ := c.Query("type"); typ != "" {
		if !events.Type(typ).Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown event type: " + typ,
			})
		}
		evs = filterType(evs, events.Type(typ))
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return c.JSON(evs)
}

func filterType(evs []events.Event, t events.Type) []events.Event {
	out := evs[:0:0]
	for _, e := range evs {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// handleRisk returns the current risk score with its per-category breakdown
func (s *Server) handleRisk(c *fiber.Ctx) error {
	return c.JSON(s.engine.Metrics().Risk)
}

// handleSummary returns the dashboard payload
func (s *Server) handleSummary(c *fiber.Ctx) error {
	return c.JSON(s.engine.Summary())
}

// handleMetrics returns full session metrics
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	return c.JSON(s.engine.Metrics())
}

// handleTimeline returns the events as offsets from session start
func (s *Server) handleTimeline(c *fiber.Ctx) error {
	return c.JSON(s.engine.Timeline())
}

// SessionRequest is the optional body of the session control endpoints
type SessionRequest struct {
	At int64 `json:"at,omitempty"` // Unix ms; zero means now
}

func (s *Server) requestTime(c *fiber.Ctx) (time.Time, error) {
	var req SessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return time.Time{}, err
		}
	}
	return protocol.At(req.At, s.now()), nil
}

// handleSessionStart starts a new session
func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	at, err := s.requestTime(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	id, err := s.engine.Start(at)
	if err != nil {
		return s.sessionError(c, err)
	}
	s.logger.Info("session started via api", "session", id)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": id,
		"started_at": at,
	})
}

// handleSessionEnd ends the active session and returns its payload
func (s *Server) handleSessionEnd(c *fiber.Ctx) error {
	at, err := s.requestTime(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	payload, err := s.engine.End(at)
	if err != nil {
		return s.sessionError(c, err)
	}
	return c.JSON(payload)
}

// handleSessionReset discards all session state
func (s *Server) handleSessionReset(c *fiber.Ctx) error {
	s.engine.Reset()
	return c.JSON(fiber.Map{"status": "reset"})
}

func (s *Server) sessionError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrNoSession):
		status = fiber.StatusConflict
	case errors.Is(err, session.ErrNonMonotonic):
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleHealth is the liveness check
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": s.config.AppName,
		"active":  s.engine.State().Active,
		"feeds":   s.eventHub.IsRunning() && s.riskHub.IsRunning(),
	})
}

// handleMetricsz returns Prometheus text metrics
func (s *Server) handleMetricsz(c *fiber.Ctx) error {
	st := s.engine.Stats()
	status := s.engine.State()
	current := s.engine.CurrentRisk()
	evStats := s.eventHub.Stats()
	riskStats := s.riskHub.Stats()

	active := 0
	if status.Active {
		active = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# HELP proctor_session_active Whether a session is running\n")
	fmt.Fprintf(&b, "# TYPE proctor_session_active gauge\n")
	fmt.Fprintf(&b, "proctor_session_active %d\n", active)
	fmt.Fprintf(&b, "# HELP proctor_risk_score Current risk score\n")
	fmt.Fprintf(&b, "# TYPE proctor_risk_score gauge\n")
	fmt.Fprintf(&b, "proctor_risk_score %d\n", current.Score)
	fmt.Fprintf(&b, "# HELP proctor_events Events in the current log\n")
	fmt.Fprintf(&b, "# TYPE proctor_events gauge\n")
	fmt.Fprintf(&b, "proctor_events %d\n", status.Events)
	fmt.Fprintf(&b, "# HELP proctor_sessions_total Sessions started\n")
	fmt.Fprintf(&b, "# TYPE proctor_sessions_total counter\n")
	fmt.Fprintf(&b, "proctor_sessions_total %d\n", st.Sessions)
	fmt.Fprintf(&b, "# HELP proctor_ticks_total Ticks applied\n")
	fmt.Fprintf(&b, "# TYPE proctor_ticks_total counter\n")
	fmt.Fprintf(&b, "proctor_ticks_total %d\n", st.Ticks)
	fmt.Fprintf(&b, "# HELP proctor_ticks_rejected_total Ticks rejected by reason\n")
	fmt.Fprintf(&b, "# TYPE proctor_ticks_rejected_total counter\n")
	fmt.Fprintf(&b, "proctor_ticks_rejected_total{reason=\"stale\"} %d\n", st.StaleTicks)
	fmt.Fprintf(&b, "proctor_ticks_rejected_total{reason=\"out_of_order\"} %d\n", st.OutOfOrderTicks)
	fmt.Fprintf(&b, "# HELP proctor_ticks_concurrent_total Overlapping ticks detected\n")
	fmt.Fprintf(&b, "# TYPE proctor_ticks_concurrent_total counter\n")
	fmt.Fprintf(&b, "proctor_ticks_concurrent_total %d\n", st.ConcurrentTicks)
	fmt.Fprintf(&b, "# HELP proctor_clamps_total Timestamps or ticks corrected in production mode\n")
	fmt.Fprintf(&b, "# TYPE proctor_clamps_total counter\n")
	fmt.Fprintf(&b, "proctor_clamps_total %d\n", st.Clamps)
	fmt.Fprintf(&b, "# HELP proctor_dashboard_clients Connected dashboard clients\n")
	fmt.Fprintf(&b, "# TYPE proctor_dashboard_clients gauge\n")
	fmt.Fprintf(&b, "proctor_dashboard_clients{feed=\"events\"} %d\n", evStats.Clients)
	fmt.Fprintf(&b, "proctor_dashboard_clients{feed=\"risk\"} %d\n", riskStats.Clients)
	fmt.Fprintf(&b, "# HELP proctor_dashboard_dropped_total Messages or clients dropped by feed\n")
	fmt.Fprintf(&b, "# TYPE proctor_dashboard_dropped_total counter\n")
	fmt.Fprintf(&b, "proctor_dashboard_dropped_total{feed=\"events\"} %d\n", evStats.Dropped)
	fmt.Fprintf(&b, "proctor_dashboard_dropped_total{feed=\"risk\"} %d\n", riskStats.Dropped)

	s.metricsMu.RLock()
	for _, fn := range s.metrics {
		b.WriteString(fn())
	}
	s.metricsMu.RUnlock()

	c.Set("Content-Type", "text/plain; version=0.0.4")
	return c.SendString(b.String())
}

// handleEventsWS streams events. The current log is sent first; a client
// may see an event twice around the handover and should dedupe by seq.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.eventHub, c)

	for _, e := range s.engine.Events() {
		msg, err := protocol.NewEventMessage(e)
		if err != nil {
			continue
		}
		data, err := msg.Bytes()
		if err != nil {
			continue
		}
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("events backlog write failed", "error", err)
			break
		}
	}

	client.Run()
}

// handleRiskWS streams risk updates, starting with the current score.
func (s *Server) handleRiskWS(c *websocket.Conn) {
	client := hub.NewClient(s.riskHub, c)

	if msg, err := protocol.NewRiskMessage(s.engine.CurrentRisk()); err == nil {
		if data, err := msg.Bytes(); err == nil {
			c.WriteMessage(websocket.TextMessage, data)
		}
	}

	client.Run()
}
