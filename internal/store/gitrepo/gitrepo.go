// Package gitrepo implements store.ContentStore on a local git repository.
// Files are committed to the session branch; notifications and pull
// request requests are appended under .issueforge/ in the worktree. There
// is no job runner and no comment channel, so sessions on a local
// repository execute sequentially against a model-backed agent.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fyrsmithlabs/issueforge/internal/sanitize"
	"github.com/fyrsmithlabs/issueforge/internal/store"
)

const (
	stateDir         = ".issueforge"
	notificationsLog = stateDir + "/notifications.log"
	pullsDir         = stateDir + "/pulls"
)

// Store is a local git ContentStore bound to one target.
type Store struct {
	root          string
	target        store.Target
	defaultBranch string
	now           func() time.Time

	mu   sync.Mutex
	repo *git.Repository
}

var _ store.ContentStore = (*Store)(nil)

// Open opens the repository at root, initializing it with an empty commit
// on defaultBranch when it does not exist.
func Open(root string, target store.Target, defaultBranch string) (*Store, error) {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInitWithOptions(root, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(defaultBranch)},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", root, err)
	}
	s := &Store{root: root, target: target, defaultBranch: defaultBranch, now: time.Now, repo: repo}

	if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		wt, err := repo.Worktree()
		if err != nil {
			return nil, err
		}
		if _, err := wt.Commit("issueforge: initialize repository", &git.CommitOptions{
			Author:            s.signature(),
			AllowEmptyCommits: true,
		}); err != nil {
			return nil, fmt.Errorf("initial commit: %w", err)
		}
	}
	return s, nil
}

func (s *Store) signature() *object.Signature {
	return &object.Signature{Name: "issueforge", Email: "issueforge@localhost", When: s.now()}
}

func opErr(op, p string, err error) error {
	return &store.OperationError{Operation: op, Path: p, Err: err}
}

func (s *Store) branchCommit(branch string) (*object.Commit, error) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, err
	}
	return s.repo.CommitObject(ref.Hash())
}

func (s *Store) Read(_ context.Context, p string) (store.File, error) {
	clean, err := sanitize.ValidatePath(p)
	if err != nil {
		return store.File{}, opErr("read", p, err)
	}
	p = clean
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(p)
}

func (s *Store) read(p string) (store.File, error) {
	commit, err := s.branchCommit(s.target.Branch)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return store.File{}, opErr("read", p, store.ErrNotFound)
	}
	if err != nil {
		return store.File{}, opErr("read", p, err)
	}
	f, err := commit.File(p)
	if errors.Is(err, object.ErrFileNotFound) {
		return store.File{}, opErr("read", p, store.ErrNotFound)
	}
	if err != nil {
		return store.File{}, opErr("read", p, err)
	}
	content, err := f.Contents()
	if err != nil {
		return store.File{}, opErr("read", p, err)
	}
	return store.File{Path: p, Content: content, Revision: f.Hash.String()}, nil
}

// Save commits content at p on the session branch. Unchanged content makes
// no commit.
func (s *Store) Save(_ context.Context, p, content, message string) error {
	clean, err := sanitize.ValidatePath(p)
	if err != nil {
		return opErr("save", p, err)
	}
	p = clean
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.read(p)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	case cur.Content == content:
		return nil
	}

	wt, err := s.checkout(s.target.Branch)
	if err != nil {
		return opErr("save", p, err)
	}
	if err := wt.Filesystem.MkdirAll(path.Dir(p), 0o755); err != nil {
		return opErr("save", p, err)
	}
	if err := util.WriteFile(wt.Filesystem, p, []byte(content), 0o644); err != nil {
		return opErr("save", p, err)
	}
	if _, err := wt.Add(p); err != nil {
		return opErr("save", p, err)
	}
	if _, err := wt.Commit(message, &git.CommitOptions{Author: s.signature()}); err != nil {
		return opErr("save", p, err)
	}
	return nil
}

// checkout switches the worktree to branch, creating it from the default
// branch first if needed.
func (s *Store) checkout(branch string) (*git.Worktree, error) {
	if err := s.createBranch(branch); err != nil {
		return nil, err
	}
	wt, err := s.repo.Worktree()
	if err != nil {
		return nil, err
	}
	head, err := s.repo.Head()
	if err == nil && head.Name() == plumbing.NewBranchReferenceName(branch) {
		return wt, nil
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch)}); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", branch, err)
	}
	return wt, nil
}

func (s *Store) CreateBranch(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createBranch(name); err != nil {
		return opErr("create_branch", name, err)
	}
	return nil
}

func (s *Store) createBranch(name string) error {
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := s.repo.Reference(refName, false); err == nil {
		return nil
	}
	base, err := s.repo.Reference(plumbing.NewBranchReferenceName(s.defaultBranch), true)
	if err != nil {
		return fmt.Errorf("default branch %s: %w", s.defaultBranch, err)
	}
	return s.repo.Storer.SetReference(plumbing.NewHashReference(refName, base.Hash()))
}

// HasBranch reports whether the branch exists.
func (s *Store) HasBranch(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.repo.Reference(plumbing.NewBranchReferenceName(name), false)
	return err == nil
}

func (s *Store) appendState(file, line string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Filesystem.MkdirAll(path.Dir(file), 0o755); err != nil {
		return err
	}
	f, err := wt.Filesystem.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(line))
	return err
}

// Notify appends message to .issueforge/notifications.log.
func (s *Store) Notify(_ context.Context, sessionID int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := fmt.Sprintf("%s #%d %s\n", s.now().UTC().Format(time.RFC3339), sessionID, message)
	if err := s.appendState(notificationsLog, line); err != nil {
		return opErr("notify", notificationsLog, err)
	}
	return nil
}

// Post is unsupported; local sessions have no comment channel.
func (s *Store) Post(context.Context, string) (store.Message, error) {
	return store.Message{}, opErr("post", "", store.ErrUnsupported)
}

// Messages is unsupported; local sessions have no comment channel.
func (s *Store) Messages(context.Context, time.Time) ([]store.Message, error) {
	return nil, opErr("messages", "", store.ErrUnsupported)
}

// JobExists always reports false, which routes batches to sequential
// execution.
func (s *Store) JobExists(context.Context, string) (bool, error) {
	return false, nil
}

func (s *Store) DispatchJob(_ context.Context, job, _ string, _ map[string]string) error {
	return opErr("dispatch", job, store.ErrUnsupported)
}

func (s *Store) PollJobStatus(_ context.Context, job, _ string) (store.JobStatus, error) {
	return store.JobStatus{}, opErr("poll", job, store.ErrUnsupported)
}

func (s *Store) FetchJobArtifacts(context.Context, int64) (map[string]string, error) {
	return nil, opErr("fetch_artifacts", "", store.ErrUnsupported)
}

// OpenPullRequest records the request under .issueforge/pulls/. The same
// branch always yields the same reference.
func (s *Store) OpenPullRequest(_ context.Context, branch, title, body string) (store.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := path.Join(pullsDir, branch+".md")
	wt, err := s.repo.Worktree()
	if err != nil {
		return store.PullRequest{}, opErr("open_pull_request", branch, err)
	}
	pr := store.PullRequest{URL: fmt.Sprintf("file://%s#%s", s.root, branch)}
	if _, err := wt.Filesystem.Stat(file); err == nil {
		return pr, nil
	}
	content := fmt.Sprintf("# %s\n\nbase: %s\nhead: %s\n\n%s\n", title, s.defaultBranch, branch, body)
	if err := wt.Filesystem.MkdirAll(pullsDir, 0o755); err != nil {
		return store.PullRequest{}, opErr("open_pull_request", branch, err)
	}
	if err := util.WriteFile(wt.Filesystem, file, []byte(content), 0o644); err != nil {
		return store.PullRequest{}, opErr("open_pull_request", branch, err)
	}
	return pr, nil
}
