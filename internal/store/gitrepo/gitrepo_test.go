package gitrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/sanitize"
	"github.com/fyrsmithlabs/issueforge/internal/store"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, store.Target{Owner: "local", Repo: "demo", Issue: 42, Branch: "project-42"}, "main")
	require.NoError(t, err)
	return s, dir
}

func TestOpen_InitializesRepository(t *testing.T) {
	s, dir := openTemp(t)
	assert.True(t, s.HasBranch("main"))
	_, err := os.Stat(filepath.Join(dir, ".git"))
	assert.NoError(t, err)

	// Reopening finds the same repository.
	_, err = Open(dir, store.Target{Branch: "project-1"}, "main")
	assert.NoError(t, err)
}

func TestCreateBranch_Idempotent(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBranch(ctx, "project-42"))
	require.NoError(t, s.CreateBranch(ctx, "project-42"))
	assert.True(t, s.HasBranch("project-42"))
}

func TestSave_CommitsOnSessionBranch(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	_, err := s.Read(ctx, "plans/PLAN.md")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.Save(ctx, "plans/PLAN.md", "v1", "plan"))
	first, err := s.Read(ctx, "plans/PLAN.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", first.Content)

	require.NoError(t, s.Save(ctx, "plans/PLAN.md", "v2", "plan again"))
	second, err := s.Read(ctx, "plans/PLAN.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", second.Content)
	assert.NotEqual(t, first.Revision, second.Revision)

	require.NoError(t, s.Save(ctx, "plans/PLAN.md", "v2", "no change"))

	main, err := s.branchCommit("main")
	require.NoError(t, err)
	_, err = main.File("plans/PLAN.md")
	assert.Error(t, err, "default branch must stay untouched")
}

func TestSave_RejectsPathsOutsideRepository(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	err := s.Save(ctx, "../outside.md", "x", "escape")
	assert.ErrorIs(t, err, sanitize.ErrPathTraversal)
	var opErr *store.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "save", opErr.Operation)

	_, err = s.Read(ctx, "/etc/passwd")
	assert.ErrorIs(t, err, sanitize.ErrAbsolutePath)
}

func TestNotify_AppendsToLog(t *testing.T) {
	s, dir := openTemp(t)
	require.NoError(t, s.Notify(context.Background(), 42, "planning started"))
	require.NoError(t, s.Notify(context.Background(), 42, "planning done"))

	data, err := os.ReadFile(filepath.Join(dir, notificationsLog))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "#42 planning done")
}

func TestNoRunnerNoChannel(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	ok, err := s.JobExists(ctx, "research.yml")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(s.DispatchJob(ctx, "research.yml", "project-42", nil), store.ErrUnsupported))
	_, err = s.Post(ctx, "hi")
	assert.True(t, errors.Is(err, store.ErrUnsupported))
}

func TestOpenPullRequest_Idempotent(t *testing.T) {
	s, dir := openTemp(t)
	ctx := context.Background()
	first, err := s.OpenPullRequest(ctx, "project-42", "issueforge: Demo (#42)", "Closes #42")
	require.NoError(t, err)
	second, err := s.OpenPullRequest(ctx, "project-42", "other", "other")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(filepath.Join(dir, pullsDir, "project-42.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Closes #42")
}
