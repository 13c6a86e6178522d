package workflows

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/issueforge/internal/execution"
)

// Dispatcher starts UnitBatchWorkflow executions for one session.
type Dispatcher struct {
	client    client.Client
	taskQueue string
	sessionID int
	seq       atomic.Int64
	now       func() time.Time
}

var _ execution.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher returns a Dispatcher for sessionID.
func NewDispatcher(c client.Client, taskQueue string, sessionID int) *Dispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Dispatcher{client: c, taskQueue: taskQueue, sessionID: sessionID, now: time.Now}
}

// Available reports whether the Temporal frontend answers.
func (d *Dispatcher) Available(ctx context.Context, _ execution.Kind) (bool, error) {
	if _, err := d.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return false, nil
	}
	return true, nil
}

// WorkflowID returns the id of the n-th batch of kind for the session.
func WorkflowID(sessionID int, kind execution.Kind, n int64) string {
	return fmt.Sprintf("issueforge-%d-%s-%d", sessionID, kind, n)
}

// BatchInput converts a batch to workflow input.
func BatchInput(sessionID int, b execution.Batch) UnitBatchInput {
	in := UnitBatchInput{SessionID: sessionID, Kind: string(b.Kind)}
	for _, u := range b.Units {
		in.Units = append(in.Units, UnitInput{
			Name:    u.Name,
			AgentID: u.AgentID,
			Task:    u.Task,
			Prompt:  u.Prompt,
		})
	}
	if v, ok := b.Inputs["improvementMode"].(bool); ok {
		in.ImprovementMode = v
	}
	if v, ok := b.Inputs["targetUnit"].(string); ok {
		in.TargetUnit = v
	} else if v, ok := b.Inputs["targetResearcherId"].(string); ok {
		in.TargetUnit = v
	}
	return in
}

func (d *Dispatcher) Dispatch(ctx context.Context, b execution.Batch) (execution.Run, error) {
	id := WorkflowID(d.sessionID, b.Kind, d.seq.Add(1))
	started := d.now()
	run, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: d.taskQueue,
	}, UnitBatchWorkflow, BatchInput(d.sessionID, b))
	if err != nil {
		return execution.Run{}, fmt.Errorf("starting workflow %s: %w", id, err)
	}
	return execution.Run{Job: run.GetID(), ID: run.GetRunID(), StartedAt: started}, nil
}

func (d *Dispatcher) Status(ctx context.Context, run execution.Run) (execution.Status, error) {
	resp, err := d.client.DescribeWorkflowExecution(ctx, run.Job, run.ID)
	if err != nil {
		return execution.Status{}, err
	}
	st := resp.GetWorkflowExecutionInfo().GetStatus()
	out := execution.Status{ID: run.ID, Detail: st.String()}
	switch st {
	case enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED, enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		out.Done, out.Succeeded = true, true
	default:
		out.Done = true
	}
	return out, nil
}

func (d *Dispatcher) Collect(ctx context.Context, run execution.Run, _ execution.Batch) (execution.Results, error) {
	var res UnitBatchResult
	if err := d.client.GetWorkflow(ctx, run.Job, run.ID).Get(ctx, &res); err != nil {
		return nil, err
	}
	return execution.Results(res.Results), nil
}
