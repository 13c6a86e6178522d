package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/correlator"
	"github.com/fyrsmithlabs/issueforge/internal/events"
	"github.com/fyrsmithlabs/issueforge/internal/gate"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/session"
)

// Options configures a Controller.
type Options struct {
	Gate   config.GateConfig
	Roster config.RosterConfig
	Logger *logging.Logger
}

// Controller runs one session through the pipeline.
type Controller struct {
	sess     *session.Session
	env      Env
	gateCfg  config.GateConfig
	roster   config.RosterConfig
	logger   *logging.Logger
	gate     *gate.Gate
	handlers map[session.Phase]PhaseHandler
	progress ProgressCallback

	mu   sync.Mutex
	last *State
}

// NewController returns a Controller with the default handler for every
// work phase registered.
func NewController(sess *session.Session, env Env, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if env.Ledger == nil {
		env.Ledger = session.NewLedger(env.Store)
	}
	if env.Events == nil {
		env.Events = events.Nop{}
	}
	c := &Controller{
		sess:     sess,
		env:      env,
		gateCfg:  opts.Gate,
		roster:   opts.Roster,
		logger:   opts.Logger.Named("orchestrator"),
		handlers: make(map[session.Phase]PhaseHandler),
	}
	c.gate = gate.New(env.Ledger, gate.WithNotify(c.onIteration), gate.WithLogger(c.logger))

	c.RegisterHandler(HandlerFunc(session.PhasePlanning, c.plan))
	c.RegisterHandler(HandlerFunc(session.PhaseResearching, c.research))
	c.RegisterHandler(HandlerFunc(session.PhaseDevPlanning, c.devPlan))
	c.RegisterHandler(HandlerFunc(session.PhaseDeveloping, c.develop))
	c.RegisterHandler(HandlerFunc(session.PhaseVerifying, c.verify))
	c.RegisterHandler(HandlerFunc(session.PhaseReporting, c.report))
	return c
}

// RegisterHandler registers a phase handler, replacing any existing one.
func (c *Controller) RegisterHandler(handler PhaseHandler) {
	c.handlers[handler.Phase()] = handler
}

// OnProgress sets the progress callback.
func (c *Controller) OnProgress(callback ProgressCallback) {
	c.progress = callback
}

// Session returns the controlled session.
func (c *Controller) Session() *session.Session {
	return c.sess
}

// Run drives the session to Completed or Failed. Restart requests are
// honored at phase boundaries and, if one arrives after the last boundary,
// by starting another run before returning.
func (c *Controller) Run(ctx context.Context) error {
	if !c.sess.BeginRun() {
		return ErrRunActive
	}
	ctx = logging.WithSessionID(ctx, strconv.Itoa(c.sess.ID))

	for {
		err := c.run(ctx)
		c.sess.EndRun()
		if err != nil || ctx.Err() != nil || !c.sess.RestartPending() || !c.sess.BeginRun() {
			return err
		}
	}
}

func (c *Controller) run(ctx context.Context) error {
	sessionsStarted.Add(ctx, 1)
	if err := c.env.Store.CreateBranch(ctx, c.sess.Branch); err != nil {
		return c.fail(ctx, session.PhaseInit, fmt.Errorf("creating branch %s: %w", c.sess.Branch, err))
	}
	c.publish(ctx, events.Event{Type: events.Started, Message: c.sess.Title})
	c.notify(ctx, fmt.Sprintf("🚀 Starting work on branch `%s`.", c.sess.Branch))

	for {
		restarted, err := c.runOnce(ctx)
		if err != nil {
			var pf *PhaseFailure
			if errors.As(err, &pf) {
				return c.fail(ctx, pf.Phase, pf.Err)
			}
			return c.fail(ctx, c.sess.Phase(), err)
		}
		if !restarted {
			return nil
		}
	}
}

// runOnce executes the work phases in order. It returns true when a
// restart was taken at a boundary.
func (c *Controller) runOnce(ctx context.Context) (bool, error) {
	c.env.Ledger.SetGeneration(c.sess.Restarts())
	st := &State{Session: c.sess}
	c.setLast(st)

	phases := session.WorkPhases()
	total := len(phases)
	for i, phase := range phases {
		if c.takeRestart(ctx) {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, &PhaseFailure{Phase: phase, Err: err}
		}

		from := c.sess.Phase()
		if err := c.sess.Advance(phase); err != nil {
			return false, &PhaseFailure{Phase: phase, Err: err}
		}
		pctx := logging.WithPhase(ctx, string(phase))
		c.transitioned(pctx, from, phase)
		c.notify(pctx, fmt.Sprintf("▶️ Phase %d/%d: **%s** started.", i+1, total, phase))
		c.reportProgress(PhaseProgress{
			Phase:      phase,
			Status:     StatusInProgress,
			Message:    fmt.Sprintf("Starting phase: %s", phase),
			Percentage: (i * 100) / total,
		})

		handler, ok := c.handlers[phase]
		if !ok {
			return false, &PhaseFailure{Phase: phase, Err: fmt.Errorf("no handler registered for phase %s", phase)}
		}

		start := time.Now()
		err := handler.Execute(pctx, st)
		phaseDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("phase", string(phase)), attribute.Bool("success", err == nil)))
		if err != nil {
			return false, &PhaseFailure{Phase: phase, Err: err}
		}

		c.logger.Info(pctx, "phase completed", zap.Duration("duration", time.Since(start)))
		c.reportProgress(PhaseProgress{
			Phase:      phase,
			Status:     StatusCompleted,
			Message:    fmt.Sprintf("Completed phase: %s", phase),
			Percentage: ((i + 1) * 100) / total,
		})
	}

	if c.takeRestart(ctx) {
		return true, nil
	}
	from := c.sess.Phase()
	if err := c.sess.Advance(session.PhaseCompleted); err != nil {
		return false, &PhaseFailure{Phase: session.PhaseCompleted, Err: err}
	}
	c.transitioned(ctx, from, session.PhaseCompleted)

	msg := "✅ All phases completed."
	data := map[string]any{}
	if st.PullRequest != nil {
		msg += " Pull request: " + st.PullRequest.URL
		data["pull_request"] = st.PullRequest.URL
	}
	c.notify(ctx, msg)
	c.publish(ctx, events.Event{Type: events.Completed, Phase: string(session.PhaseCompleted), Data: data})
	return false, nil
}

// takeRestart consumes a pending restart and re-enters Planning.
func (c *Controller) takeRestart(ctx context.Context) bool {
	if !c.sess.TakeRestart() {
		return false
	}
	from := c.sess.Phase()
	sessionRestarts.Add(ctx, 1)
	c.logger.Info(ctx, "restart taken",
		zap.String("from", string(from)), zap.Int("restarts", c.sess.Restarts()))
	c.notify(ctx, fmt.Sprintf("🔁 Restart requested during **%s**. Re-entering planning with the original requirements.", from))
	c.publish(ctx, events.Event{Type: events.Restarted, Phase: string(from)})
	c.reportProgress(PhaseProgress{Phase: from, Status: StatusRestarted, Message: "Restart requested"})
	return true
}

func (c *Controller) fail(ctx context.Context, phase session.Phase, err error) error {
	c.sess.Fail()
	phaseFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(phase))))
	c.logger.Error(ctx, "session failed", zap.String("failed_phase", string(phase)), zap.Error(err))
	c.notify(ctx, fmt.Sprintf("❌ Phase **%s** failed: %s", phase, err.Error()))
	c.publish(ctx, events.Event{Type: events.Failed, Phase: string(phase), Message: err.Error()})
	c.reportProgress(PhaseProgress{Phase: phase, Status: StatusFailed, Message: err.Error()})
	return &PhaseFailure{Phase: phase, Err: err}
}

func (c *Controller) transitioned(ctx context.Context, from, to session.Phase) {
	phaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)), attribute.String("to", string(to))))
	c.logger.Info(ctx, "phase transition", zap.String("from", string(from)), zap.String("to", string(to)))
	c.publish(ctx, events.Event{Type: events.Phase, Phase: string(to), Data: map[string]any{"from": string(from)}})
}

func (c *Controller) onIteration(ctx context.Context, it gate.Iteration) {
	gateIterations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gate", it.Phase), attribute.Bool("passed", it.Passed)))
	status := "below threshold"
	if it.Passed {
		status = "passed"
	}
	c.notify(ctx, fmt.Sprintf("🔍 %s iteration %d/%d: score %d (%s).", it.Phase, it.Attempt, it.Max, it.Score, status))
	c.publish(ctx, events.Event{
		Type:  events.Iteration,
		Phase: it.Phase,
		Data: map[string]any{
			"index":   it.Index,
			"attempt": it.Attempt,
			"score":   it.Score,
			"passed":  it.Passed,
		},
	})
}

// notify posts a status message tagged with the status marker. Failures are
// logged and do not fail the session.
func (c *Controller) notify(ctx context.Context, message string) {
	if err := c.env.Store.Notify(ctx, c.sess.ID, correlator.StatusMarker+"\n"+message); err != nil {
		c.logger.Warn(ctx, "status notification failed", zap.Error(err))
	}
}

func (c *Controller) publish(ctx context.Context, ev events.Event) {
	ev.SessionID = c.sess.ID
	ev.Owner = c.sess.Owner
	ev.Repo = c.sess.Repo
	if err := c.env.Events.Publish(ctx, ev); err != nil {
		c.logger.Debug(ctx, "event not published", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

func (c *Controller) reportProgress(p PhaseProgress) {
	if c.progress != nil {
		p.SessionID = c.sess.ID
		c.progress(p)
	}
}

func (c *Controller) setLast(st *State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = st
}

// Approve acknowledges an approval command. It is recognized only while
// the session is Verifying or Completed and never changes its phase.
func (c *Controller) Approve(ctx context.Context) error {
	phase := c.sess.Phase()
	if phase != session.PhaseVerifying && phase != session.PhaseCompleted {
		c.logger.Info(ctx, "approval ignored", zap.String("current_phase", string(phase)))
		return fmt.Errorf("%w: %s", ErrNotApprovable, phase)
	}

	msg := "👍 Approval received."
	if phase == session.PhaseCompleted {
		c.mu.Lock()
		st := c.last
		c.mu.Unlock()
		if st != nil && st.PullRequest != nil {
			msg += fmt.Sprintf(" Pull request #%d is ready to merge: %s", st.PullRequest.Number, st.PullRequest.URL)
		}
	} else {
		msg += " Verification is still in progress."
	}
	c.notify(ctx, msg)
	return nil
}

// gateConfig builds the gate bounds for one phase.
func (c *Controller) gateConfig(phase session.Phase, max int) gate.Config {
	return gate.Config{Phase: string(phase), MaxIterations: max, Threshold: c.gateCfg.Threshold}
}

// settle logs and announces a gate that ran out of budget. The last
// candidate is accepted and the run continues.
func settle[C gate.Artifact](ctx context.Context, c *Controller, phase session.Phase, out gate.Outcome[C]) {
	if out.Passed {
		return
	}
	c.logger.Warn(ctx, "gate budget exhausted",
		zap.Int("iterations", out.Iterations), zap.Int("score", out.Verdict.Score))
	c.notify(ctx, fmt.Sprintf("⚠️ %s did not reach the quality threshold after %d iterations (last score %d). Continuing with the last candidate.",
		phase, out.Iterations, out.Verdict.Score))
}
