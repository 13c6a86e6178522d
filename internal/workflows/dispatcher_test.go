package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"github.com/fyrsmithlabs/issueforge/internal/execution"
)

func researchBatch() execution.Batch {
	return execution.Batch{
		Kind: execution.KindResearch,
		Units: []execution.Unit{
			{Name: "architecture", AgentID: "architecture", Task: "survey", Prompt: "look around"},
		},
	}
}

func TestDispatcher_DispatchUsesSessionScopedIDs(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("issueforge-42-research-1")
	run.On("GetRunID").Return("run-1")

	c.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "issueforge-42-research-1" && o.TaskQueue == DefaultTaskQueue
		}),
		mock.Anything,
		mock.MatchedBy(func(in UnitBatchInput) bool {
			return in.SessionID == 42 && in.Kind == "research" && len(in.Units) == 1
		}),
	).Return(run, nil).Once()

	d := NewDispatcher(c, "", 42)
	r, err := d.Dispatch(context.Background(), researchBatch())
	require.NoError(t, err)
	assert.Equal(t, "issueforge-42-research-1", r.Job)
	assert.Equal(t, "run-1", r.ID)
	c.AssertExpectations(t)
}

func TestDispatcher_Status(t *testing.T) {
	cases := []struct {
		status   enumspb.WorkflowExecutionStatus
		done, ok bool
	}{
		{enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, false, false},
		{enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED, true, true},
		{enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, true, false},
		{enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			c := &mocks.Client{}
			c.On("DescribeWorkflowExecution", mock.Anything, "wf", "run").Return(
				&workflowservice.DescribeWorkflowExecutionResponse{
					WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{Status: tc.status},
				}, nil)

			st, err := NewDispatcher(c, "", 42).Status(context.Background(), execution.Run{Job: "wf", ID: "run"})
			require.NoError(t, err)
			assert.Equal(t, tc.done, st.Done)
			assert.Equal(t, tc.ok, st.Succeeded)
		})
	}
}

func TestDispatcher_Collect(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		res := args.Get(1).(*UnitBatchResult)
		res.Results = map[string]string{"architecture": "notes"}
	}).Return(nil)
	c.On("GetWorkflow", mock.Anything, "wf", "run").Return(run)

	res, err := NewDispatcher(c, "", 42).Collect(context.Background(), execution.Run{Job: "wf", ID: "run"}, researchBatch())
	require.NoError(t, err)
	assert.Equal(t, "notes", res["architecture"])
}

func TestDispatcher_Available(t *testing.T) {
	up := &mocks.Client{}
	up.On("CheckHealth", mock.Anything, mock.Anything).Return(&client.CheckHealthResponse{}, nil)
	ok, err := NewDispatcher(up, "", 1).Available(context.Background(), execution.KindResearch)
	require.NoError(t, err)
	assert.True(t, ok)

	down := &mocks.Client{}
	down.On("CheckHealth", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	ok, err = NewDispatcher(down, "", 1).Available(context.Background(), execution.KindResearch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchInput_ImprovementMode(t *testing.T) {
	b := researchBatch()
	b.Inputs = map[string]any{"improvementMode": true, "targetResearcherId": "architecture"}
	in := BatchInput(7, b)
	assert.True(t, in.ImprovementMode)
	assert.Equal(t, "architecture", in.TargetUnit)
	require.NoError(t, in.Validate())

	b.Inputs = map[string]any{"improvementMode": true, "targetUnit": "prior-art"}
	assert.Equal(t, "prior-art", BatchInput(7, b).TargetUnit)
}
