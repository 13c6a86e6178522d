// Package gate implements the produce/verify/improve loop every phase
// output passes through before it is accepted.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/session"
)

// DefaultThreshold is the score a candidate needs to pass.
const DefaultThreshold = 95

// Artifact is anything a gate can persist.
type Artifact interface {
	Markdown() string
}

// Producer builds a candidate. feedback is nil on the first iteration and
// the previous verdict afterwards.
type Producer[C Artifact] func(ctx context.Context, feedback *session.Verdict) (C, error)

// Verifier scores a candidate. Unparsable reviewer output should come back
// as a zero-score verdict, not an error.
type Verifier[C Artifact] func(ctx context.Context, candidate C) (session.Verdict, error)

// Recorder persists one gate pass and returns its iteration index.
type Recorder interface {
	Record(ctx context.Context, phase, candidate string, v session.Verdict, passed bool) (int, error)
}

// Iteration describes one finished gate pass.
type Iteration struct {
	Phase   string
	Index   int
	Attempt int
	Max     int
	Score   int
	Passed  bool
}

// NotifyFunc observes every gate pass.
type NotifyFunc func(ctx context.Context, it Iteration)

// Config bounds one gate run.
type Config struct {
	Phase         string
	MaxIterations int
	// Threshold is the passing score; an unset threshold means DefaultThreshold.
	Threshold     int
}

// Outcome is the candidate a gate settled on.
type Outcome[C Artifact] struct {
	Candidate  C
	Verdict    session.Verdict
	Iterations int
	Passed     bool
}

// Gate carries the collaborators shared by every run.
type Gate struct {
	recorder Recorder
	notify   NotifyFunc
	logger   *logging.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithNotify sets the per-iteration observer.
func WithNotify(fn NotifyFunc) Option {
	return func(g *Gate) { g.notify = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New returns a Gate that records every pass with rec.
func New(rec Recorder, opts ...Option) *Gate {
	g := &Gate{
		recorder: rec,
		notify:   func(context.Context, Iteration) {},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run produces and verifies candidates until one scores at or above the
// threshold or the iteration budget is spent. The last candidate is
// returned either way; Outcome.Passed tells them apart.
func Run[C Artifact](ctx context.Context, g *Gate, cfg Config, produce Producer[C], verify Verifier[C]) (Outcome[C], error) {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}

	var (
		out      Outcome[C]
		feedback *session.Verdict
	)
	for attempt := 1; attempt <= cfg.MaxIterations; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		candidate, err := produce(ctx, feedback)
		if err != nil {
			return out, fmt.Errorf("%s gate: producing candidate %d: %w", cfg.Phase, attempt, err)
		}
		verdict, err := verify(ctx, candidate)
		if err != nil {
			return out, fmt.Errorf("%s gate: verifying candidate %d: %w", cfg.Phase, attempt, err)
		}
		verdict = verdict.Clamp()
		passed := verdict.Score >= cfg.Threshold

		index, err := g.recorder.Record(ctx, cfg.Phase, candidate.Markdown(), verdict, passed)
		if err != nil {
			return out, fmt.Errorf("%s gate: recording iteration: %w", cfg.Phase, err)
		}

		out = Outcome[C]{Candidate: candidate, Verdict: verdict, Iterations: attempt, Passed: passed}

		g.logger.Info(ctx, "gate iteration",
			zap.String("gate", cfg.Phase),
			zap.Int("attempt", attempt),
			zap.Int("index", index),
			zap.Int("score", verdict.Score),
			zap.Bool("passed", passed),
			zap.Bool("degraded", verdict.Degraded))
		g.notify(ctx, Iteration{
			Phase:   cfg.Phase,
			Index:   index,
			Attempt: attempt,
			Max:     cfg.MaxIterations,
			Score:   verdict.Score,
			Passed:  passed,
		})

		if passed {
			return out, nil
		}
		v := verdict
		feedback = &v
	}
	return out, nil
}
