// Package workflows provides the Temporal runner for multi-unit batches:
// the UnitBatchWorkflow, its activities, a worker constructor and an
// execution.Dispatcher that starts and observes batch workflows.
package workflows

import (
	"fmt"
)

// DefaultTaskQueue is the task queue batch workflows run on.
const DefaultTaskQueue = "issueforge-units"

// UnitInput is one unit handed to RunUnitActivity.
type UnitInput struct {
	SessionID int
	Kind      string
	Name      string
	AgentID   string
	Task      string
	Prompt    string
}

// UnitBatchInput configures one UnitBatchWorkflow execution.
type UnitBatchInput struct {
	SessionID int
	Kind      string
	Units     []UnitInput

	// ImprovementMode reruns TargetUnit only.
	ImprovementMode bool
	TargetUnit      string
}

// Validate checks that all required fields are set.
func (in *UnitBatchInput) Validate() error {
	if in.SessionID <= 0 {
		return fmt.Errorf("SessionID must be positive")
	}
	if in.Kind == "" {
		return fmt.Errorf("Kind is required")
	}
	if len(in.Units) == 0 {
		return fmt.Errorf("at least one unit is required")
	}
	seen := make(map[string]bool, len(in.Units))
	for _, u := range in.Units {
		if u.Name == "" {
			return fmt.Errorf("unit name is required")
		}
		if seen[u.Name] {
			return fmt.Errorf("duplicate unit %q", u.Name)
		}
		seen[u.Name] = true
	}
	if in.ImprovementMode && !seen[in.TargetUnit] {
		return fmt.Errorf("improvement target %q is not a unit of the batch", in.TargetUnit)
	}
	return nil
}

// UnitBatchResult maps unit name to output. Failed units are listed in
// Failed and have no Results key.
type UnitBatchResult struct {
	Results map[string]string
	Failed  []string
	Errors  []string
}
