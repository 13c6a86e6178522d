// Package http provides the webhook ingress for issueforge.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/orchestrator"
)

// EventHandler receives the events the webhook accepts.
type EventHandler interface {
	HandleIssue(ctx context.Context, ev orchestrator.IssueEvent) (bool, error)
	HandleComment(ctx context.Context, ev orchestrator.CommentEvent) (orchestrator.Command, error)
}

// Options configures a Server.
type Options struct {
	Server        config.ServerConfig
	WebhookSecret config.Secret
	BotLogin      string
	Logger        *logging.Logger
}

// Server provides the webhook, health and metrics endpoints.
type Server struct {
	echo     *echo.Echo
	handler  EventHandler
	opts     Options
	logger   *logging.Logger
	limiters *limiters
}

// NewServer creates a new HTTP server.
func NewServer(handler EventHandler, opts Options) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("event handler cannot be nil")
	}
	if !opts.WebhookSecret.IsSet() {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if opts.Server.MaxBodyBytes <= 0 {
		opts.Server.MaxBodyBytes = 10 << 20
	}
	if opts.Server.RateLimit <= 0 {
		opts.Server.RateLimit = 1
	}
	if opts.Server.RateBurst < 1 {
		opts.Server.RateBurst = 10
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := opts.Logger.Named("http")
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
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
		handler:  handler,
		opts:     opts,
		logger:   logger,
		limiters: newLimiters(opts.Server.RateLimit, opts.Server.RateBurst),
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/webhooks/github", s.handleWebhook)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.opts.Server.Addr))
	if err := s.echo.Start(s.opts.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
