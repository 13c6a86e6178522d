package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
)

// Sequential asks the agent for each unit in declared order.
type Sequential struct {
	agent  agent.Agent
	logger *logging.Logger
}

// NewSequential returns a Sequential strategy over a.
func NewSequential(a agent.Agent, logger *logging.Logger) *Sequential {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sequential{agent: a, logger: logger}
}

// Execute runs every unit. A failing unit leaves its key absent while an
// empty reply is kept as an empty result; the batch fails only when no unit
// succeeded.
func (s *Sequential) Execute(ctx context.Context, b Batch) (Results, error) {
	results := make(Results, len(b.Units))
	var errs []error
	for _, u := range b.Units {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		out, err := s.ask(ctx, u, u.Prompt)
		if err != nil {
			s.logger.Warn(ctx, "unit failed",
				zap.String("kind", string(b.Kind)), zap.String("unit", u.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		results[u.Name] = out
	}
	if len(results) == 0 && len(b.Units) > 0 {
		return results, &BatchError{Kind: b.Kind, Failed: len(errs), Err: errors.Join(errs...)}
	}
	return results, nil
}

// RerunUnit asks for unit again with suggestion appended to its prompt.
func (s *Sequential) RerunUnit(ctx context.Context, b Batch, results Results, unit, suggestion string) error {
	u, ok := b.Unit(unit)
	if !ok {
		return fmt.Errorf("%s batch has no unit %q", b.Kind, unit)
	}
	out, err := s.ask(ctx, u, improvedPrompt(u.Prompt, results[unit], suggestion))
	if err != nil {
		return err
	}
	results[unit] = out
	return nil
}

func (s *Sequential) ask(ctx context.Context, u Unit, prompt string) (string, error) {
	out, err := s.agent.Ask(ctx, agent.Request{AgentID: u.AgentID, Task: u.Task, Body: prompt})
	if err != nil {
		return "", fmt.Errorf("unit %s: %w", u.Name, err)
	}
	return out, nil
}

func improvedPrompt(prompt, previous, suggestion string) string {
	var b strings.Builder
	b.WriteString(prompt)
	if previous != "" {
		b.WriteString("\n\n## Previous output\n\n" + previous)
	}
	b.WriteString("\n\n## Improvement request\n\n" + suggestion)
	return b.String()
}
