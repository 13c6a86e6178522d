package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/issueforge/internal/store"
)

// ActionsDispatcher runs batches as workflow_dispatch jobs through a
// store.JobRunner. Each kind maps to one workflow file.
type ActionsDispatcher struct {
	runner    store.JobRunner
	branch    string
	workflows map[Kind]string
	clockSkew time.Duration
	now       func() time.Time
}

// NewActionsDispatcher returns a dispatcher for jobs on branch.
func NewActionsDispatcher(runner store.JobRunner, branch string, workflows map[Kind]string) *ActionsDispatcher {
	return &ActionsDispatcher{
		runner:    runner,
		branch:    branch,
		workflows: workflows,
		clockSkew: 5 * time.Second,
		now:       time.Now,
	}
}

func (a *ActionsDispatcher) workflow(kind Kind) (string, error) {
	wf, ok := a.workflows[kind]
	if !ok || wf == "" {
		return "", fmt.Errorf("no workflow configured for %s", kind)
	}
	return wf, nil
}

func (a *ActionsDispatcher) Available(ctx context.Context, kind Kind) (bool, error) {
	wf, err := a.workflow(kind)
	if err != nil {
		return false, nil
	}
	ok, err := a.runner.JobExists(ctx, wf)
	if errors.Is(err, store.ErrUnsupported) {
		return false, nil
	}
	return ok, err
}

func (a *ActionsDispatcher) Dispatch(ctx context.Context, b Batch) (Run, error) {
	wf, err := a.workflow(b.Kind)
	if err != nil {
		return Run{}, err
	}
	inputs, err := EncodeInputs(b.Inputs)
	if err != nil {
		return Run{}, err
	}
	started := a.now()
	if err := a.runner.DispatchJob(ctx, wf, a.branch, inputs); err != nil {
		return Run{}, err
	}
	return Run{Job: wf, StartedAt: started}, nil
}

// Status reports the newest run of the job on the branch. Runs created
// before the dispatch are someone else's and count as not yet visible.
func (a *ActionsDispatcher) Status(ctx context.Context, run Run) (Status, error) {
	st, err := a.runner.PollJobStatus(ctx, run.Job, a.branch)
	if errors.Is(err, store.ErrNoJobRun) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if !st.CreatedAt.IsZero() && st.CreatedAt.Before(run.StartedAt.Add(-a.clockSkew)) {
		return Status{}, nil
	}
	return Status{
		ID:        strconv.FormatInt(st.RunID, 10),
		Done:      st.Terminal(),
		Succeeded: st.Succeeded(),
		Detail:    st.Conclusion,
	}, nil
}

// Collect maps run artifacts to units. An artifact for unit u of kind k is
// named "k-u", optionally with a .md extension.
func (a *ActionsDispatcher) Collect(ctx context.Context, run Run, b Batch) (Results, error) {
	id, err := strconv.ParseInt(run.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", run.ID, err)
	}
	arts, err := a.runner.FetchJobArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	results := make(Results, len(b.Units))
	for _, u := range b.Units {
		for _, name := range ArtifactNames(b.Kind, u.Name) {
			if content, ok := arts[name]; ok {
				results[u.Name] = content
				break
			}
		}
	}
	return results, nil
}

// ArtifactNames lists the artifact names accepted for a unit, most specific
// first.
func ArtifactNames(kind Kind, unit string) []string {
	base := string(kind) + "-" + unit
	return []string{base + ".md", base, unit + ".md"}
}

// EncodeInputs renders dispatch inputs as strings. Strings pass through,
// everything else is JSON encoded.
func EncodeInputs(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case bool:
			out[k] = strconv.FormatBool(tv)
		case int:
			out[k] = strconv.Itoa(tv)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encoding input %s: %w", k, err)
			}
			out[k] = string(data)
		}
	}
	return out, nil
}
