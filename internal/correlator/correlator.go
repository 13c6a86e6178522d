// Package correlator turns the asynchronous comment channel into a
// synchronous request/response call.
//
// Every request carries a hidden correlation marker. A reply counts only if
// it echoes that marker and was created after the request was posted, so
// concurrent sessions and out-of-order replies cannot be mismatched.
package correlator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/store"
)

var (
	requestMarker  = regexp.MustCompile(`<!-- issueforge:request id=([0-9a-f-]+) agent=([^ ]+) -->`)
	responseMarker = regexp.MustCompile(`<!-- issueforge:response id=([0-9a-f-]+) -->`)
)

// StatusMarker tags progress notices posted on the issue so they are never
// read back as commands or replies.
const StatusMarker = "<!-- issueforge:status -->"

// RequestMarker returns the marker embedded in an outbound request.
func RequestMarker(id, agentID string) string {
	return fmt.Sprintf("<!-- issueforge:request id=%s agent=%s -->", id, agentID)
}

// ResponseMarker returns the marker a reply must echo.
func ResponseMarker(id string) string {
	return fmt.Sprintf("<!-- issueforge:response id=%s -->", id)
}

// ParseRequest extracts the correlation id and addressed agent from a
// request body.
func ParseRequest(body string) (id, agentID string, ok bool) {
	m := requestMarker.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// HasMarker reports whether body is issueforge traffic: a request, a reply
// or a status notice.
func HasMarker(body string) bool {
	return strings.Contains(body, StatusMarker) ||
		requestMarker.MatchString(body) || responseMarker.MatchString(body)
}

// ResponseTimeoutError is returned when no correlated reply arrives within
// the attempt budget.
type ResponseTimeoutError struct {
	CorrelationID string
	AgentID       string
	Attempts      int
	Elapsed       time.Duration
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("no response from agent %q for request %s after %d attempts (%s)",
		e.AgentID, e.CorrelationID, e.Attempts, e.Elapsed.Round(time.Second))
}

// Config bounds polling.
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int

	// ClockSkew widens the "after the request" window to tolerate server
	// clock drift between our clock and the channel's timestamps.
	ClockSkew time.Duration
}

// Correlator posts requests on a channel and waits for the echoed reply.
type Correlator struct {
	ch     store.Channel
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Correlator) { c.logger = l }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Correlator) { c.newID = gen }
}

// New returns a Correlator over ch.
func New(ch store.Channel, cfg Config, opts ...Option) *Correlator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	c := &Correlator{
		ch:     ch,
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ask posts request addressed to agentID and blocks until the correlated
// reply arrives, the attempt budget runs out or ctx ends.
func (c *Correlator) Ask(ctx context.Context, agentID, request string) (string, error) {
	id := c.newID()
	t0 := c.now()

	body := RequestMarker(id, agentID) + "\n" + request
	if _, err := c.ch.Post(ctx, body); err != nil {
		return "", fmt.Errorf("posting request %s: %w", id, err)
	}
	c.logger.Debug(ctx, "agent request posted", zap.String("agent", agentID), zap.String("correlation_id", id))

	want := ResponseMarker(id)
	since := t0.Add(-c.cfg.ClockSkew)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		msgs, err := c.ch.Messages(ctx, since)
		if err != nil {
			c.logger.Warn(ctx, "polling agent channel failed",
				zap.String("correlation_id", id), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if reply, ok := match(msgs, want, since); ok {
			c.logger.Debug(ctx, "agent response received",
				zap.String("agent", agentID), zap.String("correlation_id", id), zap.Int("attempt", attempt))
			return reply, nil
		}
		c.logger.Trace(ctx, "agent response pending", zap.String("correlation_id", id), zap.Int("attempt", attempt))
	}

	return "", &ResponseTimeoutError{
		CorrelationID: id,
		AgentID:       agentID,
		Attempts:      c.cfg.MaxAttempts,
		Elapsed:       c.now().Sub(t0),
	}
}

// match returns the body of the chronologically first message that echoes
// want and was created after since.
func match(msgs []store.Message, want string, since time.Time) (string, bool) {
	var (
		best  store.Message
		found bool
	)
	for _, m := range msgs {
		if !m.CreatedAt.After(since) || !strings.Contains(m.Body, want) {
			continue
		}
		if !found || m.CreatedAt.Before(best.CreatedAt) {
			best, found = m, true
		}
	}
	if !found {
		return "", false
	}
	return strings.TrimSpace(strings.Replace(best.Body, want, "", 1)), true
}
