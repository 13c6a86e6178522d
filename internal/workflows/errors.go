package workflows

import (
	"fmt"
)

// ErrorSeverity grades workflow errors.
type ErrorSeverity string

const (
	// ErrorSeverityCritical fails the workflow.
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityHigh is recorded in the result; the workflow continues.
	ErrorSeverityHigh ErrorSeverity = "high"
)

// WorkflowError is a structured error in a workflow.
type WorkflowError struct {
	Operation string
	Severity  ErrorSeverity
	Err       error
	Context   string
}

func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(operation string, severity ErrorSeverity, err error, context string) *WorkflowError {
	return &WorkflowError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// FormatErrorForResult formats an error for UnitBatchResult.Errors.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}

// Error handling in UnitBatchWorkflow:
//
// CRITICAL (Propagate & Record):
//   - Invalid input, or every unit failed
//   - Pattern: add to result.Errors AND return an error
//
// HIGH (Record but Continue):
//   - A single unit failed after its retries
//   - Pattern: add to result.Errors and result.Failed, omit the unit from
//     result.Results, let the workflow complete
