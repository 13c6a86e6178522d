package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/orchestrator"
)

// WebhookResponse is the response body for POST /webhooks/github.
type WebhookResponse struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
}

// Webhook outcomes reported in WebhookResponse.Status and metrics.
const (
	outcomeStarted = "started"
	outcomeIgnored = "ignored"
	outcomePong    = "pong"
)

func (s *Server) handleWebhook(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	if delivery := req.Header.Get("X-GitHub-Delivery"); delivery != "" {
		ctx = logging.WithRequestID(ctx, delivery)
	}
	eventType := github.WebHookType(req)

	ip := c.RealIP()
	if !s.limiters.allow(ip) {
		webhookRejected.WithLabelValues("rate_limited").Inc()
		s.logger.Warn(ctx, "rate limit exceeded", zap.String("ip", ip))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	req.Body = http.MaxBytesReader(c.Response(), req.Body, s.opts.Server.MaxBodyBytes)
	payload, err := github.ValidatePayload(req, []byte(s.opts.WebhookSecret.Value()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			webhookRejected.WithLabelValues("too_large").Inc()
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
		}
		webhookRejected.WithLabelValues("bad_signature").Inc()
		s.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		webhookRejected.WithLabelValues("bad_payload").Inc()
		s.logger.Warn(ctx, "failed to parse webhook", zap.String("event", eventType), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	var outcome string
	switch e := event.(type) {
	case *github.PingEvent:
		outcome = outcomePong
	case *github.IssuesEvent:
		started, err := s.handler.HandleIssue(ctx, issueEvent(e))
		if err != nil {
			return s.internalError(ctx, eventType, err)
		}
		outcome = outcomeIgnored
		if started {
			outcome = outcomeStarted
		}
	case *github.IssueCommentEvent:
		if e.GetAction() != "created" {
			outcome = outcomeIgnored
			break
		}
		cmd, err := s.handler.HandleComment(ctx, s.commentEvent(e))
		if err != nil {
			return s.internalError(ctx, eventType, err)
		}
		outcome = outcomeIgnored
		if cmd != orchestrator.CommandNone {
			outcome = string(cmd)
		}
	default:
		s.logger.Debug(ctx, "ignoring event type", zap.String("type", fmt.Sprintf("%T", event)))
		outcome = outcomeIgnored
	}

	webhookDeliveries.WithLabelValues(eventType, outcome).Inc()
	return c.JSON(http.StatusOK, WebhookResponse{Status: outcome, Event: eventType})
}

func (s *Server) internalError(ctx context.Context, eventType string, err error) error {
	webhookDeliveries.WithLabelValues(eventType, "error").Inc()
	s.logger.Error(ctx, "error handling webhook", zap.String("event", eventType), zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func issueEvent(e *github.IssuesEvent) orchestrator.IssueEvent {
	issue := e.GetIssue()
	ev := orchestrator.IssueEvent{
		Owner:  e.GetRepo().GetOwner().GetLogin(),
		Repo:   e.GetRepo().GetName(),
		Number: issue.GetNumber(),
		Action: e.GetAction(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
	}
	for _, l := range issue.Labels {
		ev.Labels = append(ev.Labels, l.GetName())
	}
	if name := e.GetLabel().GetName(); name != "" {
		ev.Labels = append(ev.Labels, name)
	}
	return ev
}

func (s *Server) commentEvent(e *github.IssueCommentEvent) orchestrator.CommentEvent {
	user := e.GetComment().GetUser()
	login := user.GetLogin()
	return orchestrator.CommentEvent{
		Owner:  e.GetRepo().GetOwner().GetLogin(),
		Repo:   e.GetRepo().GetName(),
		Issue:  e.GetIssue().GetNumber(),
		Author: login,
		Bot:    user.GetType() == "Bot" || strings.HasSuffix(login, "[bot]") || (s.opts.BotLogin != "" && login == s.opts.BotLogin),
		Body:   e.GetComment().GetBody(),
	}
}
