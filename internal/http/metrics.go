package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/logging"
)

var (
	// webhookDeliveries counts accepted deliveries.
	// Labels: event (GitHub event type), outcome (started, ignored, approve, restart, pong, error)
	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issueforge",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook deliveries by event type and outcome",
	}, []string{"event", "outcome"})

	// webhookRejected counts deliveries refused before dispatch.
	// Labels: reason (rate_limited, too_large, bad_signature, bad_payload)
	webhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issueforge",
		Subsystem: "webhook",
		Name:      "rejected_total",
		Help:      "Total webhook deliveries rejected before dispatch",
	}, []string{"reason"})
)

const httpInstrumentationName = "github.com/fyrsmithlabs/issueforge/internal/http"

// HTTPMetrics holds the OpenTelemetry request instruments.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates a new HTTPMetrics instance.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"issueforge.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, endpoint and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Underlying().Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"issueforge.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, endpoint and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Underlying().Warn("failed to create duration histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"issueforge.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Underlying().Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			return err
		}
	}
}

// normalizePath returns the route pattern. All routes are fixed.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
