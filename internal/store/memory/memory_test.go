package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/store"
)

func newStore() *Store {
	return New(store.Target{Owner: "octo", Repo: "widgets", Issue: 42, Branch: "project-42"})
}

func TestCreateBranch_Idempotent(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.CreateBranch(ctx, "project-42"))
	require.NoError(t, s.CreateBranch(ctx, "project-42"))
	assert.True(t, s.HasBranch("project-42"))
}

func TestSave_ReadThenWrite(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	_, err := s.Read(ctx, "a.md")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.Save(ctx, "a.md", "v1", "create"))
	require.NoError(t, s.Save(ctx, "a.md", "v2", "update"))

	f, err := s.Read(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", f.Content)
	assert.Equal(t, "2", f.Revision)
}

func TestWrite_StaleRevisionConflicts(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Save(context.Background(), "a.md", "v1", "create"))
	require.NoError(t, s.write("a.md", "v2", "1"))
	assert.Error(t, s.write("a.md", "v3", "1"))
	assert.Error(t, s.write("new.md", "x", "4"))
}

func TestPost_ResponderRepliesAfterPost(t *testing.T) {
	s := newStore()
	s.SetResponder(func(m store.Message) (string, bool) { return "ack " + m.Body, true })

	before := time.Now().Add(-time.Second)
	posted, err := s.Post(context.Background(), "hello")
	require.NoError(t, err)

	msgs, err := s.Messages(context.Background(), before)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, posted.ID, msgs[0].ID)
	assert.Equal(t, "ack hello", msgs[1].Body)
	assert.True(t, msgs[1].Bot)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))
}

func TestJobs_Scripted(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	_, err := s.PollJobStatus(ctx, "research.yml", "project-42")
	assert.True(t, errors.Is(err, store.ErrNoJobRun))

	s.SetJobs(Jobs{
		Exists: true,
		Statuses: []store.JobStatus{
			{RunID: 9, Status: store.StatusInProgress},
			{RunID: 9, Status: store.StatusCompleted, Conclusion: store.ConclusionSuccess},
		},
		Artifacts: map[string]string{"research-architecture": "notes"},
	})
	require.NoError(t, s.DispatchJob(ctx, "research.yml", "project-42", map[string]string{"sessionId": "42"}))

	st, err := s.PollJobStatus(ctx, "research.yml", "project-42")
	require.NoError(t, err)
	assert.False(t, st.Terminal())
	st, err = s.PollJobStatus(ctx, "research.yml", "project-42")
	require.NoError(t, err)
	assert.True(t, st.Succeeded())

	arts, err := s.FetchJobArtifacts(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "notes", arts["research-architecture"])
	assert.Len(t, s.Dispatches(), 1)
}

func TestOpenPullRequest_ReturnsExisting(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	first, err := s.OpenPullRequest(ctx, "project-42", "title", "Closes #42")
	require.NoError(t, err)
	second, err := s.OpenPullRequest(ctx, "project-42", "other", "other")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, title, body, ok := s.PullRequest("project-42")
	assert.True(t, ok)
	assert.Equal(t, "title", title)
	assert.Equal(t, "Closes #42", body)
}
