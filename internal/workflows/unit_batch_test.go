package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
)

type UnitBatchSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
}

func TestUnitBatchSuite(t *testing.T) {
	suite.Run(t, new(UnitBatchSuite))
}

func echoAgent(failing ...string) agent.Agent {
	fail := map[string]bool{}
	for _, f := range failing {
		fail[f] = true
	}
	return agent.Func(func(_ context.Context, req agent.Request) (string, error) {
		if fail[req.AgentID] {
			return "", errors.New("agent unavailable")
		}
		return req.AgentID + " did " + req.Task, nil
	})
}

func batchInput() UnitBatchInput {
	return UnitBatchInput{
		SessionID: 42,
		Kind:      "research",
		Units: []UnitInput{
			{Name: "architecture", AgentID: "architecture", Task: "survey"},
			{Name: "security", AgentID: "security", Task: "audit"},
		},
	}
}

func (s *UnitBatchSuite) TestAllUnitsSucceed() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&Activities{Agent: echoAgent()})

	env.ExecuteWorkflow(UnitBatchWorkflow, batchInput())

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var result UnitBatchResult
	s.NoError(env.GetWorkflowResult(&result))
	s.Equal(map[string]string{
		"architecture": "architecture did survey",
		"security":     "security did audit",
	}, result.Results)
	s.Empty(result.Failed)
}

func (s *UnitBatchSuite) TestFailedUnitIsOmitted() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&Activities{Agent: echoAgent("security")})

	env.ExecuteWorkflow(UnitBatchWorkflow, batchInput())

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var result UnitBatchResult
	s.NoError(env.GetWorkflowResult(&result))
	s.Equal([]string{"architecture"}, keys(result.Results))
	s.Equal([]string{"security"}, result.Failed)
	s.Len(result.Errors, 1)
}

func (s *UnitBatchSuite) TestAllUnitsFail() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&Activities{Agent: echoAgent("architecture", "security")})

	env.ExecuteWorkflow(UnitBatchWorkflow, batchInput())

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError())
}

func (s *UnitBatchSuite) TestImprovementModeRunsOnlyTarget() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&Activities{Agent: echoAgent()})

	in := batchInput()
	in.ImprovementMode = true
	in.TargetUnit = "security"
	env.ExecuteWorkflow(UnitBatchWorkflow, in)

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var result UnitBatchResult
	s.NoError(env.GetWorkflowResult(&result))
	s.Equal(map[string]string{"security": "security did audit"}, result.Results)
}

func (s *UnitBatchSuite) TestInvalidInput() {
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&Activities{Agent: echoAgent()})

	env.ExecuteWorkflow(UnitBatchWorkflow, UnitBatchInput{SessionID: 42, Kind: "research"})

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError())
}

func (s *UnitBatchSuite) TestRunUnitActivity_EmptyReply() {
	env := s.NewTestActivityEnvironment()
	acts := &Activities{Agent: agent.Func(func(context.Context, agent.Request) (string, error) { return "  ", nil })}
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.RunUnitActivity, UnitInput{Name: "api", AgentID: "backend"})
	s.Error(err)
}

func TestUnitBatchInput_Validate(t *testing.T) {
	in := batchInput()
	require.NoError(t, in.Validate())

	dup := batchInput()
	dup.Units = append(dup.Units, dup.Units[0])
	assert.Error(t, dup.Validate())

	bad := batchInput()
	bad.ImprovementMode = true
	bad.TargetUnit = "performance"
	assert.Error(t, bad.Validate())

	noSession := batchInput()
	noSession.SessionID = 0
	assert.Error(t, noSession.Validate())
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
