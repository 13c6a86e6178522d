// Package store defines the versioned content store the orchestrator writes
// through: files on the session branch, branches, issue notifications, the
// comment channel agents reply on, the external job runner and pull requests.
//
// A store value is bound to one session target (repository, issue, branch)
// when it is constructed; implementations never share mutable state across
// targets.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a path, workflow or run does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNoJobRun is returned by PollJobStatus before any run is visible.
	ErrNoJobRun = errors.New("store: no job run found")

	// ErrUnsupported is returned by stores without a given capability.
	ErrUnsupported = errors.New("store: operation not supported")
)

// Target identifies the repository, issue and branch a store is bound to.
type Target struct {
	Owner  string
	Repo   string
	Issue  int
	Branch string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s#%d@%s", t.Owner, t.Repo, t.Issue, t.Branch)
}

// File is a versioned blob. Revision is the token a subsequent write of the
// same path must present.
type File struct {
	Path     string
	Content  string
	Revision string
}

// Files reads and writes files on the bound branch.
type Files interface {
	// Read returns ErrNotFound when the path has no revision.
	Read(ctx context.Context, path string) (File, error)

	// Save reads the current revision of path and writes content over it.
	// A missing path is created.
	Save(ctx context.Context, path, content, message string) error
}

// Branches creates branches. Creating an existing branch succeeds.
type Branches interface {
	CreateBranch(ctx context.Context, name string) error
}

// Notifier appends user-visible progress messages for a session.
type Notifier interface {
	Notify(ctx context.Context, sessionID int, message string) error
}

// Message is one entry of the comment channel.
type Message struct {
	ID        int64
	Author    string
	Bot       bool
	Body      string
	CreatedAt time.Time
}

// Channel is the comment stream agents are addressed and reply on.
type Channel interface {
	Post(ctx context.Context, body string) (Message, error)

	// Messages returns messages created at or after since, oldest first.
	Messages(ctx context.Context, since time.Time) ([]Message, error)
}

// JobStatus is the state of the newest run of a job on a branch.
type JobStatus struct {
	RunID      int64
	Status     string
	Conclusion string
	CreatedAt  time.Time
}

// Job run states and conclusions as reported by the runner.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	ConclusionSuccess = "success"
)

// Terminal reports whether the run has finished.
func (s JobStatus) Terminal() bool {
	return s.Status == StatusCompleted
}

// Succeeded reports whether the run finished successfully.
func (s JobStatus) Succeeded() bool {
	return s.Terminal() && s.Conclusion == ConclusionSuccess
}

// JobRunner dispatches and observes jobs on the external parallel runner.
type JobRunner interface {
	// JobExists probes whether the named job is defined for the repository.
	JobExists(ctx context.Context, job string) (bool, error)

	DispatchJob(ctx context.Context, job, branch string, inputs map[string]string) error

	// PollJobStatus returns the newest run of job on branch, or ErrNoJobRun.
	PollJobStatus(ctx context.Context, job, branch string) (JobStatus, error)

	// FetchJobArtifacts returns artifact name to content for a run.
	FetchJobArtifacts(ctx context.Context, runID int64) (map[string]string, error)
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number int
	URL    string
}

// PullRequests opens pull requests from a branch.
type PullRequests interface {
	OpenPullRequest(ctx context.Context, branch, title, body string) (PullRequest, error)
}

// ContentStore is the full capability set a session needs.
type ContentStore interface {
	Files
	Branches
	Notifier
	Channel
	JobRunner
	PullRequests
}

// OperationError wraps a failed store call with what was attempted.
type OperationError struct {
	Operation string
	Path      string
	Err       error
}

func (e *OperationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
