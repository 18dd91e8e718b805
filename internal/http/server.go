// Package http serves the session API: validation and failure-decision
// answers, status snapshots and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
)

// Controller is the orchestrator surface the server drives.
type Controller interface {
	Session() *orchestrator.Session
	PendingValidations() []string
	Resolve(stageID string, v orchestrator.Verdict) error
	Stop() error
	Pool() *agent.Pool
}

// DecisionResolver answers failure decisions. *orchestrator.ChannelDecider
// satisfies it.
type DecisionResolver interface {
	ResolveDecision(stageID string, cont bool) error
	Pending() []string
}

// Server provides HTTP endpoints for a running orchestrator.
type Server struct {
	echo      *echo.Echo
	ctrl      Controller
	decisions DecisionResolver
	scrubber  *secrets.Scrubber
	metrics   *requestMetrics
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// Decisions, if set, enables the decision endpoints.
	Decisions DecisionResolver
	// Scrubber, if set, enables POST /api/v1/scrub.
	Scrubber *secrets.Scrubber
	// Gatherer backs GET /metrics. Nil uses the default gatherer.
	Gatherer prometheus.Gatherer
	// Meter records request metrics. Nil uses the global provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(ctrl Controller, logger *zap.Logger, cfg *Config) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
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

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	metrics := newRequestMetrics(cfg.Meter, logger)
	e.Use(metrics.middleware())

	s := &Server{
		echo:      e,
		ctrl:      ctrl,
		decisions: cfg.Decisions,
		scrubber:  cfg.Scrubber,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes(cfg.Gatherer)

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/session", s.handleSession)
	v1.POST("/session/stop", s.handleStop)
	v1.GET("/validations", s.handleListValidations)
	v1.POST("/validations/:stage_id", s.handleResolveValidation)
	if s.decisions != nil {
		v1.GET("/decisions", s.handleListDecisions)
		v1.POST("/decisions/:stage_id", s.handleResolveDecision)
	}
	if s.scrubber != nil {
		v1.POST("/scrub", s.handleScrub)
	}
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	sess := s.ctrl.Session()
	resp := StatusResponse{
		Status:             "ok",
		Version:            s.config.Version,
		Counts:             countStages(sess),
		PendingValidations: nonNil(s.ctrl.PendingValidations()),
		PendingDecisions:   []string{},
		Agents:             map[string]int{},
	}
	if sess != nil {
		resp.SessionID = sess.ID
		resp.SessionStatus = string(sess.Status)
		resp.CurrentStage = sess.CurrentStage
	}
	if s.decisions != nil {
		resp.PendingDecisions = nonNil(s.decisions.Pending())
	}
	if pool := s.ctrl.Pool(); pool != nil {
		for t, n := range pool.Counts() {
			resp.Agents[string(t)] = n
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSession(c echo.Context) error {
	sess := s.ctrl.Session()
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, orchestrator.ErrNoSession.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleStop(c echo.Context) error {
	if err := s.ctrl.Stop(); err != nil {
		return s.mapError(err)
	}
	s.logger.Info("session stop requested over http")
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleListValidations(c echo.Context) error {
	return c.JSON(http.StatusOK, PendingResponse{Stages: nonNil(s.ctrl.PendingValidations())})
}

func (s *Server) handleResolveValidation(c echo.Context) error {
	stageID := c.Param("stage_id")
	var req ValidationRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid validation request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Approved == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "approved field is required")
	}

	err := s.ctrl.Resolve(stageID, orchestrator.Verdict{Approved: *req.Approved, Reason: req.Reason})
	if err != nil {
		return s.mapError(err)
	}
	answer := "rejected"
	if *req.Approved {
		answer = "approved"
	}
	s.metrics.recordAnswer(c.Request().Context(), "validation", answer)
	s.logger.Info("validation resolved",
		zap.String("stage_id", stageID),
		zap.Bool("approved", *req.Approved),
	)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListDecisions(c echo.Context) error {
	return c.JSON(http.StatusOK, PendingResponse{Stages: nonNil(s.decisions.Pending())})
}

func (s *Server) handleResolveDecision(c echo.Context) error {
	stageID := c.Param("stage_id")
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid decision request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Continue == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "continue field is required")
	}

	if err := s.decisions.ResolveDecision(stageID, *req.Continue); err != nil {
		return s.mapError(err)
	}
	answer := "abort"
	if *req.Continue {
		answer = "continue"
	}
	s.metrics.recordAnswer(c.Request().Context(), "decision", answer)
	s.logger.Info("failure decision resolved",
		zap.String("stage_id", stageID),
		zap.Bool("continue", *req.Continue),
	)
	return c.NoContent(http.StatusNoContent)
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string   `json:"content"`
	FindingsCount int      `json:"findings_count"`
	Rules         []string `json:"rules,omitempty"`
}

// handleScrub shows what handoff redaction would do to content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)
	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: len(result.Findings),
		Rules:         result.RuleIDs(),
	})
}

// mapError converts orchestrator errors to HTTP errors.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyResolved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownStage), errors.Is(err, orchestrator.ErrNoSession):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
