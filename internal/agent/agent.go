// Package agent is the boundary between the orchestrator and the external
// natural-language workers. Agents take free text and return free text;
// the parse adapters in this package turn replies into typed values.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/issueforge/internal/correlator"
)

// Request addresses one task to one agent.
type Request struct {
	AgentID string
	Task    string
	Body    string
}

// Prompt renders the request as a single prompt.
func (r Request) Prompt() string {
	return fmt.Sprintf("@%s\n\n## Task: %s\n\n%s", r.AgentID, r.Task, r.Body)
}

// Agent performs one natural-language task.
type Agent interface {
	Ask(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Ask(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// CommentAgent talks to agents that watch the issue comment stream.
type CommentAgent struct {
	corr *correlator.Correlator
}

// NewCommentAgent returns an Agent over a correlator.
func NewCommentAgent(corr *correlator.Correlator) *CommentAgent {
	return &CommentAgent{corr: corr}
}

func (a *CommentAgent) Ask(ctx context.Context, req Request) (string, error) {
	return a.corr.Ask(ctx, req.AgentID, req.Prompt())
}

// LLMAgent answers requests with a language model.
type LLMAgent struct {
	model   llms.Model
	timeout time.Duration
	opts    []llms.CallOption
}

// NewLLMAgent returns an Agent over model. timeout bounds each call.
func NewLLMAgent(model llms.Model, timeout time.Duration, opts ...llms.CallOption) *LLMAgent {
	return &LLMAgent{model: model, timeout: timeout, opts: opts}
}

func (a *LLMAgent) Ask(ctx context.Context, req Request) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	prompt := fmt.Sprintf("You are the %q agent of a software delivery pipeline.\n\n%s", req.AgentID, req.Prompt())
	out, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt, a.opts...)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", req.AgentID, err)
	}
	return strings.TrimSpace(out), nil
}

// Scrubber removes secrets from text.
type Scrubber interface {
	String(content string) string
}

// Scrubbed wraps an agent so every reply passes through s.
func Scrubbed(a Agent, s Scrubber) Agent {
	if s == nil {
		return a
	}
	return Func(func(ctx context.Context, req Request) (string, error) {
		out, err := a.Ask(ctx, req)
		if err != nil {
			return "", err
		}
		return s.String(out), nil
	})
}
