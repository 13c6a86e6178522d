package gate_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/gate"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/session"
	"github.com/fyrsmithlabs/issueforge/internal/store"
	"github.com/fyrsmithlabs/issueforge/internal/store/memory"
)

type doc string

func (d doc) Markdown() string { return string(d) }

func newLedger() *session.Ledger {
	return session.NewLedger(memory.New(store.Target{Owner: "o", Repo: "r", Issue: 1, Branch: "project-1"}))
}

// scripted produces "candidate-N" and scores it from scores[N-1].
func scripted(scores []int) (gate.Producer[doc], gate.Verifier[doc], *[]*session.Verdict) {
	n := 0
	var feedback []*session.Verdict
	produce := func(_ context.Context, fb *session.Verdict) (doc, error) {
		feedback = append(feedback, fb)
		n++
		return doc("candidate-" + strconv.Itoa(n)), nil
	}
	verify := func(_ context.Context, _ doc) (session.Verdict, error) {
		return session.Verdict{Score: scores[n-1], Issues: []string{"issue " + strconv.Itoa(n)}}, nil
	}
	return produce, verify, &feedback
}

func TestRun_StopsAtFirstPassingCandidate(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	var seen []gate.Iteration
	g := gate.New(ledger, gate.WithNotify(func(_ context.Context, it gate.Iteration) { seen = append(seen, it) }))

	produce, verify, feedback := scripted([]int{40, 60, 80, 96, 99})
	out, err := gate.Run(ctx, g, gate.Config{Phase: "plan", MaxIterations: 5, Threshold: 95}, produce, verify)
	require.NoError(t, err)

	assert.Equal(t, doc("candidate-4"), out.Candidate)
	assert.True(t, out.Passed)
	assert.Equal(t, 4, out.Iterations)
	assert.Equal(t, 96, out.Verdict.Score)

	require.Len(t, *feedback, 4)
	assert.Nil(t, (*feedback)[0])
	require.NotNil(t, (*feedback)[3])
	assert.Equal(t, 80, (*feedback)[3].Score)

	records, err := ledger.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.True(t, records[3].Passed)

	require.Len(t, seen, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, []int{seen[0].Index, seen[1].Index, seen[2].Index, seen[3].Index})
}

func TestRun_BudgetReturnsLastCandidate(t *testing.T) {
	produce, verify, _ := scripted([]int{10, 20, 30, 40})
	out, err := gate.Run(context.Background(), gate.New(newLedger()), gate.Config{Phase: "devplan", MaxIterations: 3}, produce, verify)
	require.NoError(t, err)

	assert.Equal(t, doc("candidate-3"), out.Candidate)
	assert.False(t, out.Passed)
	assert.Equal(t, 3, out.Iterations)
}

func TestRun_ZeroBudgetRunsOnce(t *testing.T) {
	produce, verify, _ := scripted([]int{10})
	out, err := gate.Run(context.Background(), gate.New(newLedger()), gate.Config{Phase: "plan"}, produce, verify)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Iterations)
}

func TestRun_UnparsableVerdictScoresZero(t *testing.T) {
	produce := func(context.Context, *session.Verdict) (doc, error) { return doc("plan"), nil }
	verify := func(context.Context, doc) (session.Verdict, error) {
		return agent.ParseVerdict("great work, no notes"), nil
	}

	logger := logging.NewTestLogger()
	out, err := gate.Run(context.Background(), gate.New(newLedger(), gate.WithLogger(logger.Logger)),
		gate.Config{Phase: "plan", MaxIterations: 2}, produce, verify)
	require.NoError(t, err)

	assert.Equal(t, 0, out.Verdict.Score)
	assert.True(t, out.Verdict.Degraded)
	assert.False(t, out.Passed)
	assert.Equal(t, 2, logger.FilterMessage("gate iteration").Len())
	logger.AssertField(t, "gate iteration", "degraded", true)
}

func TestRun_PropagatesAgentErrors(t *testing.T) {
	boom := errors.New("agent timed out")
	produce := func(context.Context, *session.Verdict) (doc, error) { return "", boom }
	verify := func(context.Context, doc) (session.Verdict, error) { return session.Verdict{}, nil }

	_, err := gate.Run(context.Background(), gate.New(newLedger()), gate.Config{Phase: "plan", MaxIterations: 3}, produce, verify)
	assert.ErrorIs(t, err, boom)
}
