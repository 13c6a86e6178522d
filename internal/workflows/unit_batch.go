package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// UnitBatchWorkflow runs every unit of a batch in parallel and collects
// per-unit results.
//
// This workflow:
// 1. Validates the input
// 2. Starts RunUnitActivity for each unit (only the target in improvement mode)
// 3. Waits for all of them in declared order
// 4. Returns the successful outputs; failed units are omitted and listed
func UnitBatchWorkflow(ctx workflow.Context, input UnitBatchInput) (*UnitBatchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting unit batch",
		"session", input.SessionID,
		"kind", input.Kind,
		"units", len(input.Units),
		"improvement", input.ImprovementMode)

	result := &UnitBatchResult{Results: map[string]string{}}
	if err := input.Validate(); err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("validate_input", err))
		return result, NewWorkflowError("validate_input", ErrorSeverityCritical, err, "")
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    0,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	units := input.Units
	if input.ImprovementMode {
		for _, u := range input.Units {
			if u.Name == input.TargetUnit {
				units = []UnitInput{u}
				break
			}
		}
	}

	var a *Activities
	futures := make([]workflow.Future, len(units))
	for i, u := range units {
		u.SessionID = input.SessionID
		u.Kind = input.Kind
		futures[i] = workflow.ExecuteActivity(ctx, a.RunUnitActivity, u)
	}

	var errs []error
	for i, f := range futures {
		name := units[i].Name
		var out string
		if err := f.Get(ctx, &out); err != nil {
			logger.Warn("Unit failed", "unit", name, "error", err)
			result.Failed = append(result.Failed, name)
			result.Errors = append(result.Errors, FormatErrorForResult("unit "+name, err))
			errs = append(errs, err)
			continue
		}
		result.Results[name] = out
	}

	if len(result.Results) == 0 {
		err := fmt.Errorf("all %d units failed: %w", len(units), errors.Join(errs...))
		return result, NewWorkflowError("run_units", ErrorSeverityCritical, err, input.Kind)
	}

	logger.Info("Unit batch complete",
		"succeeded", len(result.Results),
		"failed", len(result.Failed))
	return result, nil
}
