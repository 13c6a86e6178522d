// Package memory provides an in-process ContentStore with a scriptable job
// runner and agent responder.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fyrsmithlabs/issueforge/internal/store"
)

// Responder produces an automated reply to a posted message. Returning
// false posts nothing.
type Responder func(posted store.Message) (reply string, ok bool)

// Dispatch records one DispatchJob call.
type Dispatch struct {
	Job    string
	Branch string
	Inputs map[string]string
}

// Notification records one Notify call.
type Notification struct {
	SessionID int
	Message   string
}

// Jobs scripts the job runner.
type Jobs struct {
	Exists      bool
	DispatchErr error

	// Statuses are returned by successive polls; the last one repeats.
	Statuses []store.JobStatus

	Artifacts map[string]string
}

type blob struct {
	content  string
	revision int
}

// Store is an in-memory ContentStore bound to one target.
type Store struct {
	target store.Target
	now    func() time.Time

	mu            sync.Mutex
	branches      map[string]bool
	files         map[string]map[string]blob
	notifications []Notification
	messages      []store.Message
	nextID        int64
	responder     Responder
	jobs          Jobs
	polls         int
	dispatches    []Dispatch
	pulls         map[string]pullRequest
}

type pullRequest struct {
	store.PullRequest
	title, body string
}

var _ store.ContentStore = (*Store)(nil)

// New returns an empty store bound to target. The default branch "main"
// exists.
func New(target store.Target) *Store {
	return &Store{
		target:   target,
		now:      time.Now,
		branches: map[string]bool{"main": true},
		files:    map[string]map[string]blob{},
		pulls:    map[string]pullRequest{},
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetResponder installs an automated replier for posted messages.
func (s *Store) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// SetJobs scripts the job runner.
func (s *Store) SetJobs(j Jobs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = j
	s.polls = 0
}

func (s *Store) branchFiles(branch string) map[string]blob {
	m, ok := s.files[branch]
	if !ok {
		m = map[string]blob{}
		s.files[branch] = m
	}
	return m
}

func (s *Store) Read(_ context.Context, path string) (store.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branchFiles(s.target.Branch)[path]
	if !ok {
		return store.File{}, &store.OperationError{Operation: "read", Path: path, Err: store.ErrNotFound}
	}
	return store.File{Path: path, Content: b.content, Revision: strconv.Itoa(b.revision)}, nil
}

func (s *Store) Save(ctx context.Context, path, content, _ string) error {
	rev := ""
	if f, err := s.Read(ctx, path); err == nil {
		rev = f.Revision
	}
	return s.write(path, content, rev)
}

// write applies content if rev still names the current revision.
func (s *Store) write(path, content, rev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := s.branchFiles(s.target.Branch)
	cur, exists := files[path]
	switch {
	case exists && rev != strconv.Itoa(cur.revision):
		return &store.OperationError{Operation: "save", Path: path, Err: fmt.Errorf("revision conflict: have %q, current %d", rev, cur.revision)}
	case !exists && rev != "":
		return &store.OperationError{Operation: "save", Path: path, Err: fmt.Errorf("revision %q for missing file", rev)}
	}
	files[path] = blob{content: content, revision: cur.revision + 1}
	return nil
}

// File returns the content at path on the bound branch.
func (s *Store) File(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branchFiles(s.target.Branch)[path]
	return b.content, ok
}

// Paths lists files on the bound branch, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for p := range s.branchFiles(s.target.Branch) {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Store) CreateBranch(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.branches[name] {
		return nil
	}
	s.branches[name] = true
	base := s.branchFiles("main")
	files := s.branchFiles(name)
	for p, b := range base {
		files[p] = b
	}
	return nil
}

// HasBranch reports whether the branch exists.
func (s *Store) HasBranch(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branches[name]
}

func (s *Store) Notify(_ context.Context, sessionID int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, Notification{SessionID: sessionID, Message: message})
	return nil
}

// Notifications returns a copy of all notifications.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

func (s *Store) Post(_ context.Context, body string) (store.Message, error) {
	s.mu.Lock()
	posted := s.appendLocked("issueforge", false, body, s.now())
	responder := s.responder
	s.mu.Unlock()

	if responder != nil {
		if reply, ok := responder(posted); ok {
			s.mu.Lock()
			s.appendLocked("agent[bot]", true, reply, s.now().Add(time.Millisecond))
			s.mu.Unlock()
		}
	}
	return posted, nil
}

// AddMessage appends a message as if another author had posted it.
func (s *Store) AddMessage(author string, bot bool, body string, at time.Time) store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(author, bot, body, at)
}

func (s *Store) appendLocked(author string, bot bool, body string, at time.Time) store.Message {
	s.nextID++
	m := store.Message{ID: s.nextID, Author: author, Bot: bot, Body: body, CreatedAt: at}
	s.messages = append(s.messages, m)
	return m
}

func (s *Store) Messages(_ context.Context, since time.Time) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) JobExists(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Exists, nil
}

func (s *Store) DispatchJob(_ context.Context, job, branch string, inputs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs.DispatchErr != nil {
		return &store.OperationError{Operation: "dispatch", Path: job, Err: s.jobs.DispatchErr}
	}
	s.dispatches = append(s.dispatches, Dispatch{Job: job, Branch: branch, Inputs: inputs})
	return nil
}

// Dispatches returns a copy of all recorded dispatches.
func (s *Store) Dispatches() []Dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Dispatch(nil), s.dispatches...)
}

func (s *Store) PollJobStatus(_ context.Context, _, _ string) (store.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs.Statuses) == 0 {
		return store.JobStatus{}, store.ErrNoJobRun
	}
	i := s.polls
	if i >= len(s.jobs.Statuses) {
		i = len(s.jobs.Statuses) - 1
	}
	s.polls++
	return s.jobs.Statuses[i], nil
}

func (s *Store) FetchJobArtifacts(_ context.Context, _ int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.jobs.Artifacts))
	for k, v := range s.jobs.Artifacts {
		out[k] = v
	}
	return out, nil
}

func (s *Store) OpenPullRequest(_ context.Context, branch, title, body string) (store.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr, ok := s.pulls[branch]; ok {
		return pr.PullRequest, nil
	}
	n := 1000 + len(s.pulls)
	pr := pullRequest{
		PullRequest: store.PullRequest{
			Number: n,
			URL:    fmt.Sprintf("https://example.invalid/%s/%s/pull/%d", s.target.Owner, s.target.Repo, n),
		},
		title: title,
		body:  body,
	}
	s.pulls[branch] = pr
	return pr.PullRequest, nil
}

// PullRequest returns the PR opened from branch with its title and body.
func (s *Store) PullRequest(branch string) (pr store.PullRequest, title, body string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pulls[branch]
	return p.PullRequest, p.title, p.body, ok
}
