package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
)

// Activities holds the dependencies of batch activities. Register a
// value with the worker; workflows reference methods through a nil
// *Activities.
type Activities struct {
	Agent agent.Agent
}

// RunUnitActivity asks the agent to perform one unit.
func (a *Activities) RunUnitActivity(ctx context.Context, input UnitInput) (string, error) {
	logger := activity.GetLogger(ctx)
	start := time.Now()
	attrs := metric.WithAttributes(
		attribute.String("kind", input.Kind),
		attribute.String("agent", input.AgentID),
	)
	unitExecutions.Add(ctx, 1, attrs)
	defer func() {
		unitDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	logger.Info("Running unit", "unit", input.Name, "agent", input.AgentID)
	out, err := a.Agent.Ask(ctx, agent.Request{AgentID: input.AgentID, Task: input.Task, Body: input.Prompt})
	if err != nil {
		unitErrorCounter.Add(ctx, 1, attrs)
		return "", fmt.Errorf("unit %s: %w", input.Name, err)
	}
	if strings.TrimSpace(out) == "" {
		unitErrorCounter.Add(ctx, 1, attrs)
		return "", temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unit %s: empty response", input.Name), "EmptyResponse", nil)
	}
	return out, nil
}
