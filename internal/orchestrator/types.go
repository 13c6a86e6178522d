package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/events"
	"github.com/fyrsmithlabs/issueforge/internal/execution"
	"github.com/fyrsmithlabs/issueforge/internal/session"
	"github.com/fyrsmithlabs/issueforge/internal/store"
)

// Agent ids for the single-agent roles. Researchers, developers and
// verifiers come from the plan.
const (
	AgentPlanner          = "planner"
	AgentPlanReviewer     = "plan-reviewer"
	AgentResearchReviewer = "research-reviewer"
	AgentArchitect        = "architect"
	AgentDevPlanReviewer  = "devplan-reviewer"
	AgentReporter         = "reporter"
)

// Artifact paths on the session branch.
const (
	PlanPath            = "plans/PLAN.md"
	DevelopmentPlanPath = "plans/DEVELOPMENT_PLAN.md"
	FinalReportPath     = "reports/FINAL_REPORT.md"
)

// ResearchTaskPath is where a researcher's dispatch payload is persisted.
func ResearchTaskPath(id string) string { return "research/tasks/" + id + ".json" }

// ResearchOutputPath is where a researcher's findings are committed.
func ResearchOutputPath(id string) string { return "research/" + id + ".md" }

// ComponentTaskPath is where a component's dispatch payload is persisted.
func ComponentTaskPath(name string) string { return "components/" + name + "/task.json" }

// ComponentOutputPath is where a component's implementation is committed.
func ComponentOutputPath(name string) string { return "components/" + name + "/OUTPUT.md" }

// VerificationPath is where a verifier's verdict is committed.
func VerificationPath(id string) string { return "verification/" + id + ".md" }

var (
	// ErrRunActive is returned by Run while another run of the same
	// session is in progress.
	ErrRunActive = errors.New("orchestrator: session run already active")

	// ErrNotApprovable is returned by Approve outside Verifying and Completed.
	ErrNotApprovable = errors.New("orchestrator: session cannot be approved in its current phase")
)

// PhaseFailure is the error that moved a session to Failed.
type PhaseFailure struct {
	Phase session.Phase
	Err   error
}

func (e *PhaseFailure) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseFailure) Unwrap() error {
	return e.Err
}

// Env is the set of collaborators bound to one session. A Factory builds a
// fresh Env per session.
type Env struct {
	Store    store.ContentStore
	Agent    agent.Agent
	Strategy execution.Strategy

	// Ledger defaults to a ledger over Store.
	Ledger *session.Ledger

	// Events defaults to events.Nop.
	Events events.Publisher
}

// Factory builds the Env for a session.
type Factory interface {
	NewEnv(ctx context.Context, sess *session.Session) (Env, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, sess *session.Session) (Env, error)

func (f FactoryFunc) NewEnv(ctx context.Context, sess *session.Session) (Env, error) {
	return f(ctx, sess)
}

// PhaseStatus is the state reported for a phase in progress callbacks.
type PhaseStatus string

const (
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
	StatusRestarted  PhaseStatus = "restarted"
)

// PhaseProgress reports progress during a run.
type PhaseProgress struct {
	SessionID  int           `json:"session_id"`
	Phase      session.Phase `json:"phase"`
	Status     PhaseStatus   `json:"status"`
	Message    string        `json:"message"`
	Percentage int           `json:"percentage"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(progress PhaseProgress)

// State carries the outputs of one run from phase to phase. A restart
// discards it.
type State struct {
	Session     *session.Session
	Plan        session.Plan
	Research    session.ResearchResult
	DevPlan     session.DevelopmentPlan
	Development execution.Results
	Report      session.VerificationReport
	PullRequest *store.PullRequest
}

// PhaseHandler executes one phase.
type PhaseHandler interface {
	Phase() session.Phase
	Execute(ctx context.Context, st *State) error
}

type handlerFunc struct {
	phase session.Phase
	fn    func(ctx context.Context, st *State) error
}

func (h handlerFunc) Phase() session.Phase { return h.phase }

func (h handlerFunc) Execute(ctx context.Context, st *State) error { return h.fn(ctx, st) }

// HandlerFunc wraps fn as the handler for phase.
func HandlerFunc(phase session.Phase, fn func(ctx context.Context, st *State) error) PhaseHandler {
	return handlerFunc{phase: phase, fn: fn}
}

// devOutput is the development phase result as a gate candidate.
type devOutput struct {
	plan    session.DevelopmentPlan
	results execution.Results
}

func (d devOutput) Markdown() string {
	out := "# Implementation\n"
	for _, c := range d.plan.Components {
		body, ok := d.results[c.Name]
		if !ok {
			body = "_No output was produced for this component._"
		}
		out += fmt.Sprintf("\n## %s\n\n%s\n", c.Name, body)
	}
	return out
}
