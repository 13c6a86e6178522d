// Package githubstore implements store.ContentStore on the GitHub REST API:
// repository contents on the session branch, issue comments for progress
// and agent traffic, Actions for delegated batches and pull requests.
package githubstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/store"
)

// Store is a GitHub-backed ContentStore bound to one session target.
type Store struct {
	client        *github.Client
	http          *http.Client
	target        store.Target
	defaultBranch string
	botLogin      string
	retry         RetryConfig
	logger        *logging.Logger
}

var _ store.ContentStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithRetry sets the retry policy.
func WithRetry(r RetryConfig) Option {
	return func(s *Store) { s.retry = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithHTTPClient sets the client used to download artifact archives. The
// archive links are pre-signed, so it carries no credentials.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Store) { s.http = hc }
}

// WithBot sets the login whose comments count as bot traffic and the
// default branch new branches start from.
func WithBot(login, defaultBranch string) Option {
	return func(s *Store) {
		if login != "" {
			s.botLogin = login
		}
		if defaultBranch != "" {
			s.defaultBranch = defaultBranch
		}
	}
}

// New returns a Store over client bound to target.
func New(client *github.Client, target store.Target, opts ...Option) *Store {
	s := &Store{
		client:        client,
		http:          &http.Client{Timeout: 2 * time.Minute},
		target:        target,
		defaultBranch: "main",
		retry:         DefaultRetryConfig(),
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open builds a fresh authenticated client for target. Each session gets
// its own client.
func Open(ctx context.Context, gh config.GitHubConfig, rc config.RetryConfig, target store.Target, logger *logging.Logger) (*Store, error) {
	client, err := NewClient(ctx, gh.Token, gh.BaseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return New(client, target,
		WithRetry(RetryFromConfig(rc)),
		WithLogger(logger.With(zap.String("target", target.String()))),
		WithBot(gh.BotLogin, gh.DefaultBranch),
	), nil
}

func (s *Store) do(ctx context.Context, name string, op func() (*github.Response, error)) (*github.Response, error) {
	return retry(ctx, s.retry, s.logger, name, op)
}

func opErr(op, path string, err error) error {
	return &store.OperationError{Operation: op, Path: path, Err: err}
}

func (s *Store) Read(ctx context.Context, path string) (store.File, error) {
	var file *github.RepositoryContent
	resp, err := s.do(ctx, "read", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		file, _, resp, err = s.client.Repositories.GetContents(ctx, s.target.Owner, s.target.Repo, path,
			&github.RepositoryContentGetOptions{Ref: s.target.Branch})
		return resp, err
	})
	if notFound(resp) {
		return store.File{}, opErr("read", path, store.ErrNotFound)
	}
	if err != nil {
		return store.File{}, opErr("read", path, err)
	}
	if file == nil {
		return store.File{}, opErr("read", path, fmt.Errorf("path is a directory"))
	}
	content, err := file.GetContent()
	if err != nil {
		return store.File{}, opErr("read", path, err)
	}
	return store.File{Path: path, Content: content, Revision: file.GetSHA()}, nil
}

// Save reads the current blob SHA and writes over it. A missing path is
// created.
func (s *Store) Save(ctx context.Context, path, content, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(s.target.Branch),
	}
	cur, err := s.Read(ctx, path)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		if cur.Content == content {
			return nil
		}
		opts.SHA = github.String(cur.Revision)
	}

	_, err = s.do(ctx, "save", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		if opts.SHA == nil {
			_, resp, err = s.client.Repositories.CreateFile(ctx, s.target.Owner, s.target.Repo, path, opts)
		} else {
			_, resp, err = s.client.Repositories.UpdateFile(ctx, s.target.Owner, s.target.Repo, path, opts)
		}
		return resp, err
	})
	if err != nil {
		return opErr("save", path, err)
	}
	s.logger.Debug(ctx, "file saved", zap.String("path", path), zap.Bool("created", opts.SHA == nil))
	return nil
}

// CreateBranch creates name from the default branch head. An existing
// branch is left alone.
func (s *Store) CreateBranch(ctx context.Context, name string) error {
	resp, err := s.do(ctx, "get_ref", func() (*github.Response, error) {
		_, resp, err := s.client.Git.GetRef(ctx, s.target.Owner, s.target.Repo, "refs/heads/"+name)
		return resp, err
	})
	if err == nil {
		return nil
	}
	if !notFound(resp) {
		return opErr("create_branch", name, err)
	}

	var base *github.Reference
	_, err = s.do(ctx, "get_ref", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		base, resp, err = s.client.Git.GetRef(ctx, s.target.Owner, s.target.Repo, "refs/heads/"+s.defaultBranch)
		return resp, err
	})
	if err != nil {
		return opErr("create_branch", s.defaultBranch, err)
	}

	resp, err = s.do(ctx, "create_ref", func() (*github.Response, error) {
		_, resp, err := s.client.Git.CreateRef(ctx, s.target.Owner, s.target.Repo, &github.Reference{
			Ref:    github.String("refs/heads/" + name),
			Object: &github.GitObject{SHA: base.Object.SHA},
		})
		return resp, err
	})
	if statusCode(resp) == http.StatusUnprocessableEntity {
		// Created concurrently.
		return nil
	}
	if err != nil {
		return opErr("create_branch", name, err)
	}
	s.logger.Info(ctx, "branch created", zap.String("branch", name), zap.String("from", s.defaultBranch))
	return nil
}

func (s *Store) comment(ctx context.Context, issue int, body string) (*github.IssueComment, error) {
	var c *github.IssueComment
	_, err := s.do(ctx, "create_comment", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		c, resp, err = s.client.Issues.CreateComment(ctx, s.target.Owner, s.target.Repo, issue,
			&github.IssueComment{Body: github.String(body)})
		return resp, err
	})
	return c, err
}

// Notify appends a progress comment to the session issue.
func (s *Store) Notify(ctx context.Context, sessionID int, message string) error {
	if _, err := s.comment(ctx, sessionID, message); err != nil {
		return opErr("notify", fmt.Sprintf("#%d", sessionID), err)
	}
	return nil
}

func (s *Store) Post(ctx context.Context, body string) (store.Message, error) {
	c, err := s.comment(ctx, s.target.Issue, body)
	if err != nil {
		return store.Message{}, opErr("post", fmt.Sprintf("#%d", s.target.Issue), err)
	}
	return s.message(c), nil
}

func (s *Store) message(c *github.IssueComment) store.Message {
	login := c.GetUser().GetLogin()
	return store.Message{
		ID:        c.GetID(),
		Author:    login,
		Bot:       login == s.botLogin || c.GetUser().GetType() == "Bot" || strings.HasSuffix(login, "[bot]"),
		Body:      c.GetBody(),
		CreatedAt: c.GetCreatedAt().Time,
	}
}

// Messages lists issue comments created at or after since, oldest first.
func (s *Store) Messages(ctx context.Context, since time.Time) ([]store.Message, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.String("created"),
		Direction:   github.String("asc"),
		Since:       &since,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []store.Message
	for {
		var page []*github.IssueComment
		resp, err := s.do(ctx, "list_comments", func() (*github.Response, error) {
			var (
				resp *github.Response
				err  error
			)
			page, resp, err = s.client.Issues.ListComments(ctx, s.target.Owner, s.target.Repo, s.target.Issue, opts)
			return resp, err
		})
		if err != nil {
			return nil, opErr("messages", fmt.Sprintf("#%d", s.target.Issue), err)
		}
		for _, c := range page {
			m := s.message(c)
			// since filters on update time server side.
			if m.CreatedAt.Before(since) {
				continue
			}
			out = append(out, m)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// JobExists reports whether the workflow file is defined in the repository.
func (s *Store) JobExists(ctx context.Context, job string) (bool, error) {
	resp, err := s.do(ctx, "get_workflow", func() (*github.Response, error) {
		_, resp, err := s.client.Actions.GetWorkflowByFileName(ctx, s.target.Owner, s.target.Repo, job)
		return resp, err
	})
	if notFound(resp) {
		return false, nil
	}
	if err != nil {
		return false, opErr("job_exists", job, err)
	}
	return true, nil
}

func (s *Store) DispatchJob(ctx context.Context, job, branch string, inputs map[string]string) error {
	in := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	_, err := s.do(ctx, "dispatch", func() (*github.Response, error) {
		return s.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, s.target.Owner, s.target.Repo, job,
			github.CreateWorkflowDispatchEventRequest{Ref: branch, Inputs: in})
	})
	if err != nil {
		return opErr("dispatch", job, err)
	}
	s.logger.Info(ctx, "workflow dispatched", zap.String("workflow", job), zap.String("branch", branch))
	return nil
}

// PollJobStatus returns the newest dispatched run of job on branch.
func (s *Store) PollJobStatus(ctx context.Context, job, branch string) (store.JobStatus, error) {
	var runs *github.WorkflowRuns
	_, err := s.do(ctx, "list_runs", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		runs, resp, err = s.client.Actions.ListWorkflowRunsByFileName(ctx, s.target.Owner, s.target.Repo, job,
			&github.ListWorkflowRunsOptions{
				Branch:      branch,
				Event:       "workflow_dispatch",
				ListOptions: github.ListOptions{PerPage: 5},
			})
		return resp, err
	})
	if err != nil {
		return store.JobStatus{}, opErr("poll", job, err)
	}
	if runs == nil || len(runs.WorkflowRuns) == 0 {
		return store.JobStatus{}, store.ErrNoJobRun
	}
	newest := runs.WorkflowRuns[0]
	for _, r := range runs.WorkflowRuns[1:] {
		if r.GetCreatedAt().After(newest.GetCreatedAt().Time) {
			newest = r
		}
	}
	return store.JobStatus{
		RunID:      newest.GetID(),
		Status:     newest.GetStatus(),
		Conclusion: newest.GetConclusion(),
		CreatedAt:  newest.GetCreatedAt().Time,
	}, nil
}

// OpenPullRequest opens a pull request from branch into the default
// branch, or returns the one already open.
func (s *Store) OpenPullRequest(ctx context.Context, branch, title, body string) (store.PullRequest, error) {
	var existing []*github.PullRequest
	_, err := s.do(ctx, "list_pulls", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		existing, resp, err = s.client.PullRequests.List(ctx, s.target.Owner, s.target.Repo, &github.PullRequestListOptions{
			State: "open",
			Head:  s.target.Owner + ":" + branch,
			Base:  s.defaultBranch,
		})
		return resp, err
	})
	if err != nil {
		return store.PullRequest{}, opErr("open_pull_request", branch, err)
	}
	if len(existing) > 0 {
		return store.PullRequest{Number: existing[0].GetNumber(), URL: existing[0].GetHTMLURL()}, nil
	}

	var pr *github.PullRequest
	_, err = s.do(ctx, "create_pull", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		pr, resp, err = s.client.PullRequests.Create(ctx, s.target.Owner, s.target.Repo, &github.NewPullRequest{
			Title: github.String(title),
			Head:  github.String(branch),
			Base:  github.String(s.defaultBranch),
			Body:  github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return store.PullRequest{}, opErr("open_pull_request", branch, err)
	}
	s.logger.Info(ctx, "pull request opened", zap.Int("number", pr.GetNumber()), zap.String("branch", branch))
	return store.PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}
