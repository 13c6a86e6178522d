package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/store"
)

var errNoResults = errors.New("run produced no unit results")

// Delegated hands a batch to a Dispatcher and waits for it.
type Delegated struct {
	files        store.Files
	dispatcher   Dispatcher
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *logging.Logger
}

// NewDelegated returns a Delegated strategy. Payloads are persisted
// through files before dispatch.
func NewDelegated(files store.Files, d Dispatcher, pollInterval, maxWait time.Duration, logger *logging.Logger) *Delegated {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Delegated{files: files, dispatcher: d, pollInterval: pollInterval, maxWait: maxWait, logger: logger}
}

// Execute persists payloads, dispatches, polls until the run is terminal
// and collects per-unit results. A unit the runner reported, even with an
// empty result, keeps its key. Missing units are tolerated as long as at
// least one came back.
func (d *Delegated) Execute(ctx context.Context, b Batch) (Results, error) {
	job := string(b.Kind)
	for _, u := range b.Units {
		if u.PayloadPath == "" {
			continue
		}
		msg := fmt.Sprintf("%s: task payload for %s", b.Kind, u.Name)
		if err := d.files.Save(ctx, u.PayloadPath, u.Payload, msg); err != nil {
			return nil, &ExecutionDispatchError{Job: job, Stage: StagePersist, Err: err}
		}
	}

	run, err := d.dispatcher.Dispatch(ctx, b)
	if err != nil {
		return nil, &ExecutionDispatchError{Job: job, Stage: StageDispatch, Err: err}
	}
	if run.Job != "" {
		job = run.Job
	}
	d.logger.Info(ctx, "batch dispatched", zap.String("kind", string(b.Kind)), zap.String("job", job),
		zap.Int("units", len(b.Units)))

	st, err := d.wait(ctx, run)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ExecutionDispatchError{Job: job, Stage: stageOf(err), RunID: st.ID, Err: err}
	}
	run.ID = st.ID
	if !st.Succeeded {
		return nil, &ExecutionDispatchError{Job: job, Stage: StageRun, RunID: st.ID,
			Err: fmt.Errorf("run concluded %q", st.Detail)}
	}

	collected, err := d.dispatcher.Collect(ctx, run, b)
	if err != nil {
		return nil, &ExecutionDispatchError{Job: job, Stage: StageCollect, RunID: run.ID, Err: err}
	}
	results := make(Results, len(b.Units))
	for _, u := range b.Units {
		if out, ok := collected[u.Name]; ok {
			results[u.Name] = out
		}
	}
	if len(results) == 0 {
		return nil, &ExecutionDispatchError{Job: job, Stage: StageCollect, RunID: run.ID, Err: errNoResults}
	}
	if missing := results.Missing(b); len(missing) > 0 {
		d.logger.Warn(ctx, "delegated run missing unit results",
			zap.String("job", job), zap.Strings("missing", missing))
	}
	return results, nil
}

type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("run not finished after %s", e.after)
}

func stageOf(err error) string {
	var te *timeoutError
	if errors.As(err, &te) {
		return StageTimeout
	}
	return StagePoll
}

func (d *Delegated) wait(ctx context.Context, run Run) (Status, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(d.maxWait)
	defer deadline.Stop()

	var last Status
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, &timeoutError{after: d.maxWait}
		case <-ticker.C:
		}

		st, err := d.dispatcher.Status(ctx, run)
		if err != nil {
			d.logger.Warn(ctx, "polling run status failed", zap.String("job", run.Job), zap.Error(err))
			continue
		}
		if st.ID != "" {
			last = st
		}
		if st.Done {
			return st, nil
		}
	}
}

// RerunUnit dispatches a single-unit batch in improvement mode.
func (d *Delegated) RerunUnit(ctx context.Context, b Batch, results Results, unit, suggestion string) error {
	u, ok := b.Unit(unit)
	if !ok {
		return fmt.Errorf("%s batch has no unit %q", b.Kind, unit)
	}
	u.Prompt = improvedPrompt(u.Prompt, results[unit], suggestion)

	inputs := make(map[string]any, len(b.Inputs)+3)
	for k, v := range b.Inputs {
		inputs[k] = v
	}
	inputs["improvementMode"] = true
	inputs["targetUnit"] = unit
	if b.Kind == KindResearch {
		inputs["targetResearcherId"] = unit
	}
	inputs["suggestion"] = suggestion

	out, err := d.Execute(ctx, Batch{Kind: b.Kind, Units: []Unit{u}, Inputs: inputs})
	if err != nil {
		return err
	}
	results[unit] = out[unit]
	return nil
}
