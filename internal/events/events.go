// Package events publishes session lifecycle events to NATS.
//
// Events are published to subjects:
//
//	<prefix>.session.<sessionId>.started
//	<prefix>.session.<sessionId>.phase
//	<prefix>.session.<sessionId>.iteration
//	<prefix>.session.<sessionId>.failed
//	<prefix>.session.<sessionId>.completed
//	<prefix>.session.<sessionId>.restarted
//
// Publishing is best effort. A failed publish is logged and never fails the
// session.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/logging"
)

// Type names a lifecycle event and is the last subject token.
type Type string

const (
	Started   Type = "started"
	Phase     Type = "phase"
	Iteration Type = "iteration"
	Failed    Type = "failed"
	Completed Type = "completed"
	Restarted Type = "restarted"
)

// Event is the JSON payload of every published message.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	SessionID int            `json:"session_id"`
	Owner     string         `json:"owner"`
	Repo      string         `json:"repo"`
	Phase     string         `json:"phase,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// DefaultPrefix is the first subject token.
const DefaultPrefix = "issueforge"

// NATSPublisher publishes events on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// NewNATSPublisher returns a publisher over nc.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

// Connect dials url with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("issueforge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject an event for sessionID is published on.
func Subject(prefix string, sessionID int, t Type) string {
	return fmt.Sprintf("%s.session.%d.%s", prefix, sessionID, t)
}

// Publish fills in the event id and timestamp and publishes ev.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
	subject := Subject(p.prefix, ev.SessionID, ev.Type)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "event publish failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	p.logger.Trace(ctx, "event published", zap.String("subject", subject), zap.String("event_id", ev.ID))
	return nil
}
