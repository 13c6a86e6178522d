package execution

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/logging"
)

// Prober reports whether delegated execution is possible.
type Prober interface {
	Available(ctx context.Context, kind Kind) (bool, error)
}

// Fallback prefers Primary and falls back to Secondary when the probe
// fails, the dispatch fails, or some units come back without results.
type Fallback struct {
	primary   Strategy
	secondary Strategy
	probe     Prober
	logger    *logging.Logger
}

// NewFallback returns a Fallback strategy.
func NewFallback(primary, secondary Strategy, probe Prober, logger *logging.Logger) *Fallback {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, probe: probe, logger: logger}
}

func (f *Fallback) available(ctx context.Context, kind Kind) bool {
	ok, err := f.probe.Available(ctx, kind)
	if err != nil {
		f.logger.Warn(ctx, "runner probe failed", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	if !ok {
		f.logger.Info(ctx, "runner unavailable, executing sequentially", zap.String("kind", string(kind)))
	}
	return ok
}

func (f *Fallback) Execute(ctx context.Context, b Batch) (Results, error) {
	if !f.available(ctx, b.Kind) {
		return f.secondary.Execute(ctx, b)
	}

	results, err := f.primary.Execute(ctx, b)
	var de *ExecutionDispatchError
	switch {
	case errors.As(err, &de):
		f.logger.Warn(ctx, "delegated execution failed, executing sequentially",
			zap.String("job", de.Job), zap.String("stage", de.Stage), zap.Error(de.Err))
		return f.secondary.Execute(ctx, b)
	case err != nil:
		return nil, err
	}

	missing := results.Missing(b)
	if len(missing) == 0 {
		return results, nil
	}
	f.logger.Info(ctx, "executing missing units sequentially", zap.Strings("units", missing))
	filled, err := f.secondary.Execute(ctx, b.Only(missing...))
	for k, v := range filled {
		results[k] = v
	}
	if err != nil {
		f.logger.Warn(ctx, "sequential fill failed", zap.Strings("units", missing), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
	}
	return results, nil
}

func (f *Fallback) RerunUnit(ctx context.Context, b Batch, results Results, unit, suggestion string) error {
	if f.available(ctx, b.Kind) {
		err := f.primary.RerunUnit(ctx, b, results, unit, suggestion)
		var de *ExecutionDispatchError
		if !errors.As(err, &de) {
			return err
		}
		f.logger.Warn(ctx, "delegated rerun failed, asking directly", zap.String("unit", unit), zap.Error(err))
	}
	return f.secondary.RerunUnit(ctx, b, results, unit, suggestion)
}
