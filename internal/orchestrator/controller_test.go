package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/execution"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/session"
	"github.com/fyrsmithlabs/issueforge/internal/store"
	"github.com/fyrsmithlabs/issueforge/internal/store/memory"
)

const (
	planReply = "```yaml\nsummary: Build a widget cache\ncomplexity: simple\nresearchers: [architecture]\ndevelopers: [backend]\nverifiers: [quality]\n```"
	devReply  = "```yaml\ncomponents:\n  - name: api\n    developer: backend\n    spec: Serve cached widgets\n  - name: ui\n    developer: backend\n    dependencies: [api]\n    spec: Render widgets\n```"
)

func score(n string) string {
	return "```yaml\nscore: " + n + "\nissues: []\nfixes: []\n```"
}

// scripted answers by agent id and records every request.
type scripted struct {
	mu       sync.Mutex
	replies  map[string]func(req agent.Request) (string, error)
	requests []agent.Request
}

func newScripted() *scripted {
	s := &scripted{replies: map[string]func(agent.Request) (string, error){}}
	s.set(AgentPlanner, planReply)
	s.set(AgentPlanReviewer, score("97"))
	s.set("architecture", "Use a read-through cache.")
	s.set(AgentResearchReviewer, score("96"))
	s.set(AgentArchitect, devReply)
	s.set(AgentDevPlanReviewer, score("98"))
	s.on("backend", func(req agent.Request) (string, error) {
		return "implementation: " + strings.SplitN(req.Body, "\n", 2)[0], nil
	})
	s.set("quality", score("96"))
	s.set(AgentReporter, "Everything shipped.")
	return s
}

func (s *scripted) set(id, reply string) {
	s.on(id, func(agent.Request) (string, error) { return reply, nil })
}

func (s *scripted) on(id string, fn func(agent.Request) (string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[id] = fn
}

func (s *scripted) Ask(_ context.Context, req agent.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn, ok := s.replies[req.AgentID]
	s.mu.Unlock()
	if !ok {
		return "", errors.New("no script for " + req.AgentID)
	}
	return fn(req)
}

func (s *scripted) calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.AgentID == id {
			n++
		}
	}
	return n
}

func testGate() config.GateConfig {
	return config.GateConfig{Threshold: 95, PlanIterations: 5, DevPlanIterations: 3, ResearchIterations: 3, VerifyIterations: 5}
}

func testRoster() config.RosterConfig {
	return config.RosterConfig{Researchers: []string{"architecture"}, Developers: []string{"backend"}, Verifiers: []string{"quality"}}
}

type fixture struct {
	store *memory.Store
	agent *scripted
	sess  *session.Session
	ctrl  *Controller
}

func newFixture(t *testing.T, gateCfg config.GateConfig) *fixture {
	t.Helper()
	sess := session.New("octo", "widgets", 42, "Widget cache", "Cache widgets for 5 minutes.", time.Now())
	st := memory.New(store.Target{Owner: "octo", Repo: "widgets", Issue: 42, Branch: sess.Branch})
	ag := newScripted()
	env := Env{
		Store:    st,
		Agent:    ag,
		Strategy: execution.NewSequential(ag, logging.NewNop()),
	}
	return &fixture{
		store: st,
		agent: ag,
		sess:  sess,
		ctrl:  NewController(sess, env, Options{Gate: gateCfg, Roster: testRoster()}),
	}
}

func (f *fixture) messages() []string {
	var out []string
	for _, n := range f.store.Notifications() {
		out = append(out, n.Message)
	}
	return out
}

func containsMessage(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func TestController_RunCompletesPipeline(t *testing.T) {
	f := newFixture(t, testGate())

	var progress []PhaseProgress
	f.ctrl.OnProgress(func(p PhaseProgress) { progress = append(progress, p) })

	require.NoError(t, f.ctrl.Run(context.Background()))
	assert.Equal(t, session.PhaseCompleted, f.sess.Phase())
	assert.True(t, f.store.HasBranch("project-42"))

	for _, p := range []string{
		PlanPath,
		ResearchOutputPath("architecture"),
		DevelopmentPlanPath,
		ComponentOutputPath("api"),
		ComponentOutputPath("ui"),
		VerificationPath("quality"),
		FinalReportPath,
		session.LedgerPath,
	} {
		_, ok := f.store.File(p)
		assert.True(t, ok, "missing %s", p)
	}

	// Task payloads are only persisted for delegated runs.
	_, ok := f.store.File(ResearchTaskPath("architecture"))
	assert.False(t, ok)

	plan, _ := f.store.File(PlanPath)
	assert.Contains(t, plan, "Build a widget cache")

	_, title, body, ok := f.store.PullRequest("project-42")
	require.True(t, ok)
	assert.Equal(t, "issueforge: Widget cache (#42)", title)
	assert.Contains(t, body, "Closes #42")
	assert.Contains(t, body, "Everything shipped.")

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, session.PhaseReporting, last.Phase)
	assert.Equal(t, 100, last.Percentage)
	assert.True(t, containsMessage(f.messages(), "All phases completed"))
}

func TestController_PersistsEveryGatePass(t *testing.T) {
	f := newFixture(t, testGate())
	reviews := 0
	f.agent.on(AgentPlanReviewer, func(agent.Request) (string, error) {
		reviews++
		return score([]string{"40", "60", "80", "96"}[reviews-1]), nil
	})

	require.NoError(t, f.ctrl.Run(context.Background()))

	records, err := f.ctrl.env.Ledger.Records(context.Background())
	require.NoError(t, err)

	var planning []session.Record
	for _, r := range records {
		if r.Phase == string(session.PhasePlanning) {
			planning = append(planning, r)
		}
	}
	require.Len(t, planning, 4)
	for i, r := range planning {
		assert.Equal(t, i, r.Index)
		_, ok := f.store.File(r.Path)
		assert.True(t, ok, "missing %s", r.Path)
	}
	assert.True(t, planning[3].Passed)
	assert.Equal(t, 4, f.agent.calls(AgentPlanner))
}

func TestController_GateBudgetExhaustedContinues(t *testing.T) {
	cfg := testGate()
	cfg.PlanIterations = 2
	f := newFixture(t, cfg)
	f.agent.set(AgentPlanReviewer, "looks fine to me")

	require.NoError(t, f.ctrl.Run(context.Background()))
	assert.Equal(t, session.PhaseCompleted, f.sess.Phase())
	assert.Equal(t, 2, f.agent.calls(AgentPlanner))
	assert.True(t, containsMessage(f.messages(), "did not reach the quality threshold"))
}

func TestController_InvalidDevelopmentPlanFails(t *testing.T) {
	f := newFixture(t, testGate())
	f.agent.set(AgentArchitect, "```yaml\ncomponents:\n  - name: ui\n    dependencies: [api]\n  - name: api\n```")

	err := f.ctrl.Run(context.Background())

	var pf *PhaseFailure
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, session.PhaseDevPlanning, pf.Phase)
	var pve *session.PlanValidationError
	assert.True(t, errors.As(err, &pve))

	assert.Equal(t, session.PhaseFailed, f.sess.Phase())
	assert.Equal(t, 3, f.agent.calls(AgentArchitect))
	assert.Equal(t, 0, f.agent.calls(AgentDevPlanReviewer))
	assert.True(t, containsMessage(f.messages(), "Phase **devplanning** failed"))

	_, ok := f.store.File(ComponentOutputPath("api"))
	assert.False(t, ok)
}

func TestController_AgentErrorFailsSession(t *testing.T) {
	f := newFixture(t, testGate())
	f.agent.on(AgentReporter, func(agent.Request) (string, error) {
		return "", errors.New("reporter offline")
	})

	err := f.ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, session.PhaseFailed, f.sess.Phase())
	assert.True(t, containsMessage(f.messages(), "reporter offline"))
}

func TestController_RestartDuringVerifying(t *testing.T) {
	f := newFixture(t, testGate())
	verifications := 0
	f.agent.on("quality", func(agent.Request) (string, error) {
		verifications++
		if verifications == 1 {
			f.sess.RequestRestart()
		}
		return score("96"), nil
	})

	require.NoError(t, f.ctrl.Run(context.Background()))
	assert.Equal(t, session.PhaseCompleted, f.sess.Phase())
	assert.Equal(t, 1, f.sess.Restarts())
	assert.Equal(t, 2, f.agent.calls(AgentPlanner))
	assert.Equal(t, 1, f.agent.calls(AgentReporter))
	assert.True(t, containsMessage(f.messages(), "Restart requested during **verifying**"))

	records, err := f.ctrl.env.Ledger.Records(context.Background())
	require.NoError(t, err)

	byPhase := map[string][]session.Record{}
	for _, r := range records {
		byPhase[r.Phase] = append(byPhase[r.Phase], r)
	}
	for _, phase := range []session.Phase{session.PhasePlanning, session.PhaseVerifying} {
		recs := byPhase[string(phase)]
		require.Len(t, recs, 2, "phase %s", phase)
		assert.Less(t, recs[0].Index, recs[1].Index)
		assert.Equal(t, 0, recs[0].Generation)
		assert.Equal(t, 1, recs[1].Generation)
		for _, r := range recs {
			_, ok := f.store.File(r.Path)
			assert.True(t, ok, "record %s was deleted", r.Path)
		}
	}
}

func TestController_RunGuard(t *testing.T) {
	f := newFixture(t, testGate())
	require.True(t, f.sess.BeginRun())
	assert.ErrorIs(t, f.ctrl.Run(context.Background()), ErrRunActive)
}

func TestController_Approve(t *testing.T) {
	f := newFixture(t, testGate())
	ctx := context.Background()

	require.NoError(t, f.sess.Advance(session.PhasePlanning))
	assert.ErrorIs(t, f.ctrl.Approve(ctx), ErrNotApprovable)

	f2 := newFixture(t, testGate())
	require.NoError(t, f2.ctrl.Run(ctx))
	require.NoError(t, f2.ctrl.Approve(ctx))
	assert.Equal(t, session.PhaseCompleted, f2.sess.Phase())
	assert.True(t, containsMessage(f2.messages(), "is ready to merge"))
}

func TestController_CustomHandler(t *testing.T) {
	f := newFixture(t, testGate())
	f.ctrl.RegisterHandler(HandlerFunc(session.PhaseResearching, func(ctx context.Context, st *State) error {
		return errors.New("research backend down")
	}))

	err := f.ctrl.Run(context.Background())
	var pf *PhaseFailure
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, session.PhaseResearching, pf.Phase)
	assert.Equal(t, 0, f.agent.calls(AgentArchitect))
}
