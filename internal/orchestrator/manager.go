package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/correlator"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/sanitize"
	"github.com/fyrsmithlabs/issueforge/internal/session"
)

// IssueEvent is an issue opened or labeled on the tracker.
type IssueEvent struct {
	Owner  string
	Repo   string
	Number int
	Action string
	Title  string
	Body   string
	Labels []string
}

// CommentEvent is a comment created on an issue.
type CommentEvent struct {
	Owner  string
	Repo   string
	Issue  int
	Author string
	Bot    bool
	Body   string
}

// Command is what a comment asked for.
type Command string

const (
	CommandNone    Command = ""
	CommandApprove Command = "approve"
	CommandRestart Command = "restart"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Gate     config.GateConfig
	Roster   config.RosterConfig
	Triggers config.TriggerConfig
}

// Manager maps inbound events to sessions and runs each session on its own
// goroutine.
type Manager struct {
	base    context.Context
	factory Factory
	cfg     ManagerConfig
	logger  *logging.Logger
	now     func() time.Time

	// progress is attached to every controller the manager creates.
	progress ProgressCallback

	mu       sync.Mutex
	sessions map[string]*Controller
	wg       sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithProgress attaches a progress callback to every session.
func WithProgress(fn ProgressCallback) ManagerOption {
	return func(m *Manager) { m.progress = fn }
}

// NewManager returns a Manager. Session runs use base as their parent
// context, so cancelling base stops them at their next blocking call.
func NewManager(base context.Context, factory Factory, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		base:     base,
		factory:  factory,
		cfg:      cfg,
		logger:   logging.NewNop(),
		now:      time.Now,
		sessions: make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Triggered reports whether an issue event should start a session: an
// opened or labeled issue carrying the trigger label.
func (m *Manager) Triggered(ev IssueEvent) bool {
	if ev.Action != "opened" && ev.Action != "labeled" {
		return false
	}
	for _, l := range ev.Labels {
		if strings.EqualFold(strings.TrimSpace(l), m.cfg.Triggers.Label) {
			return true
		}
	}
	return false
}

// ParseCommand classifies a comment. Bot comments and correlator traffic
// are never commands. Restart takes precedence over approval.
func (m *Manager) ParseCommand(ev CommentEvent) Command {
	if ev.Bot || correlator.HasMarker(ev.Body) {
		return CommandNone
	}
	body := strings.ToLower(ev.Body)
	switch {
	case strings.Contains(body, strings.ToLower(m.cfg.Triggers.RestartKeyword)):
		return CommandRestart
	case strings.Contains(body, strings.ToLower(m.cfg.Triggers.ApproveKeyword)):
		return CommandApprove
	default:
		return CommandNone
	}
}

// HandleIssue starts a session for a triggering issue. It returns false
// when the event does not trigger or the issue already has a session.
func (m *Manager) HandleIssue(ctx context.Context, ev IssueEvent) (bool, error) {
	if !m.Triggered(ev) {
		return false, nil
	}
	for field, v := range map[string]string{"owner": ev.Owner, "repo": ev.Repo} {
		if err := sanitize.ValidateRepoName(field, v); err != nil {
			m.logger.Warn(ctx, "ignoring issue with invalid repository", zap.Error(err))
			return false, nil
		}
	}
	if ev.Number <= 0 {
		m.logger.Warn(ctx, "ignoring issue with invalid number", zap.Int("number", ev.Number))
		return false, nil
	}

	key := session.Key(ev.Owner, ev.Repo, ev.Number)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[key]; ok {
		m.logger.Debug(ctx, "session already exists", zap.String("session", key))
		return false, nil
	}

	requirements := strings.TrimSpace(ev.Body)
	if requirements == "" {
		requirements = ev.Title
	}
	sess := session.New(ev.Owner, ev.Repo, ev.Number, ev.Title, requirements, m.now())
	env, err := m.factory.NewEnv(ctx, sess)
	if err != nil {
		return false, fmt.Errorf("building session %s: %w", key, err)
	}

	ctrl := NewController(sess, env, Options{Gate: m.cfg.Gate, Roster: m.cfg.Roster, Logger: m.logger})
	if m.progress != nil {
		ctrl.OnProgress(m.progress)
	}
	m.sessions[key] = ctrl
	m.logger.Info(ctx, "session created", zap.String("session", key), zap.String("branch", sess.Branch))
	m.launch(ctrl)
	return true, nil
}

// HandleComment applies an approve or restart command to an existing
// session. Comments on issues without a session are ignored.
func (m *Manager) HandleComment(ctx context.Context, ev CommentEvent) (Command, error) {
	cmd := m.ParseCommand(ev)
	if cmd == CommandNone {
		return CommandNone, nil
	}

	key := session.Key(ev.Owner, ev.Repo, ev.Issue)
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.sessions[key]
	if !ok {
		m.logger.Debug(ctx, "command for unknown session ignored", zap.String("session", key), zap.String("command", string(cmd)))
		return CommandNone, nil
	}

	switch cmd {
	case CommandRestart:
		ctrl.Session().RequestRestart()
		m.logger.Info(ctx, "restart requested",
			zap.String("session", key), zap.String("phase", string(ctrl.Session().Phase())), zap.String("author", ev.Author))
		if !ctrl.Session().Running() {
			m.launch(ctrl)
		}
	case CommandApprove:
		if err := ctrl.Approve(ctx); err != nil {
			if errors.Is(err, ErrNotApprovable) {
				return CommandNone, nil
			}
			return cmd, err
		}
	}
	return cmd, nil
}

// launch runs ctrl on its own goroutine. Callers hold m.mu.
func (m *Manager) launch(ctrl *Controller) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := ctrl.Run(m.base)
		switch {
		case err == nil, errors.Is(err, ErrRunActive):
		default:
			m.logger.Warn(m.base, "session run ended with error",
				zap.String("session", ctrl.Session().Key()), zap.Error(err))
		}
	}()
}

// Session returns the session for an issue, if one exists.
func (m *Manager) Session(owner, repo string, issue int) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.sessions[session.Key(owner, repo, issue)]
	if !ok {
		return nil, false
	}
	return ctrl.Session(), true
}

// Wait blocks until every session goroutine has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
