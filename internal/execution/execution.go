// Package execution runs the multi-unit phases (research, development,
// verification) either on an external parallel runner or one unit at a
// time through the agent.
package execution

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Kind names a batch type. It selects the runner job and prefixes
// artifact names.
type Kind string

const (
	KindResearch     Kind = "research"
	KindDevelopment  Kind = "development"
	KindVerification Kind = "verification"
)

// Unit is one independently executable piece of a batch.
type Unit struct {
	// Name keys the unit's result.
	Name    string
	AgentID string
	Task    string
	Prompt  string

	// Payload is persisted at PayloadPath before a delegated dispatch.
	Payload     string
	PayloadPath string
}

// Batch is a set of units executed together.
type Batch struct {
	Kind   Kind
	Units  []Unit
	Inputs map[string]any
}

// Names returns unit names in declared order.
func (b Batch) Names() []string {
	out := make([]string, len(b.Units))
	for i, u := range b.Units {
		out[i] = u.Name
	}
	return out
}

// Unit returns the unit called name.
func (b Batch) Unit(name string) (Unit, bool) {
	for _, u := range b.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// Only returns a copy of b restricted to names, in declared order.
func (b Batch) Only(names ...string) Batch {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := Batch{Kind: b.Kind, Inputs: b.Inputs}
	for _, u := range b.Units {
		if want[u.Name] {
			out.Units = append(out.Units, u)
		}
	}
	return out
}

// Results maps unit name to output. A unit that failed has no key.
type Results map[string]string

// Missing returns the units of b with no result, in declared order.
func (r Results) Missing(b Batch) []string {
	var out []string
	for _, u := range b.Units {
		if _, ok := r[u.Name]; !ok {
			out = append(out, u.Name)
		}
	}
	return out
}

// Keys returns the result keys sorted.
func (r Results) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Strategy executes batches.
type Strategy interface {
	Execute(ctx context.Context, b Batch) (Results, error)

	// RerunUnit executes one unit again with an improvement suggestion and
	// replaces exactly that key of results.
	RerunUnit(ctx context.Context, b Batch, results Results, unit, suggestion string) error
}

// Run identifies one dispatched execution on a runner.
type Run struct {
	Job       string
	ID        string
	StartedAt time.Time
}

// Status is a runner's view of a Run.
type Status struct {
	ID        string
	Done      bool
	Succeeded bool
	Detail    string
}

// Dispatcher drives an external parallel runner.
type Dispatcher interface {
	// Available probes whether the runner can accept batches of kind.
	Available(ctx context.Context, kind Kind) (bool, error)

	Dispatch(ctx context.Context, b Batch) (Run, error)

	// Status returns Status{} with Done unset while the run is not yet
	// visible.
	Status(ctx context.Context, run Run) (Status, error)

	Collect(ctx context.Context, run Run, b Batch) (Results, error)
}

// Dispatch stages reported in ExecutionDispatchError.
const (
	StageProbe    = "probe"
	StagePersist  = "persist"
	StageDispatch = "dispatch"
	StagePoll     = "poll"
	StageTimeout  = "timeout"
	StageRun      = "run"
	StageCollect  = "collect"
)

// ExecutionDispatchError reports a delegated execution that did not
// produce results. It is the signal for the sequential fallback.
type ExecutionDispatchError struct {
	Job   string
	Stage string
	RunID string
	Err   error
}

func (e *ExecutionDispatchError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("delegated %s %s (run %s): %v", e.Job, e.Stage, e.RunID, e.Err)
	}
	return fmt.Sprintf("delegated %s %s: %v", e.Job, e.Stage, e.Err)
}

func (e *ExecutionDispatchError) Unwrap() error {
	return e.Err
}

// BatchError is returned when every unit of a sequential batch failed.
type BatchError struct {
	Kind   Kind
	Failed int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch: all %d units failed: %v", e.Kind, e.Failed, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
