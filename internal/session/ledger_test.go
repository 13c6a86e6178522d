package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/session"
	"github.com/fyrsmithlabs/issueforge/internal/store"
	"github.com/fyrsmithlabs/issueforge/internal/store/memory"
)

func TestLedger_IndexesAreMonotonicPerPhase(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(store.Target{Owner: "o", Repo: "r", Issue: 1, Branch: "project-1"})
	l := session.NewLedger(mem)

	for want := 0; want < 3; want++ {
		idx, err := l.Record(ctx, "planning", "plan v", session.Verdict{Score: 10 * want}, false)
		require.NoError(t, err)
		assert.Equal(t, want, idx)
	}
	idx, err := l.Record(ctx, "verifying", "report", session.Verdict{Score: 99}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, idx, "indexes are per phase")

	_, ok := mem.File("plans/iterations/planning/002.md")
	assert.True(t, ok)
	_, ok = mem.File(session.LedgerPath)
	assert.True(t, ok)
}

func TestLedger_ContinuesFromPersistedState(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(store.Target{Owner: "o", Repo: "r", Issue: 1, Branch: "project-1"})

	first := session.NewLedger(mem)
	for i := 0; i < 2; i++ {
		_, err := first.Record(ctx, "planning", "old", session.Verdict{Score: 50}, false)
		require.NoError(t, err)
	}

	// A fresh ledger (e.g. after a restart) resumes numbering and keeps history.
	second := session.NewLedger(mem)
	second.SetGeneration(1)
	idx, err := second.Record(ctx, "planning", "new", session.Verdict{Score: 97}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	records, err := second.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 0, records[0].Generation)
	assert.Equal(t, 1, records[2].Generation)
	assert.True(t, records[2].Passed)

	_, ok := mem.File("plans/iterations/planning/000.md")
	assert.True(t, ok, "earlier records are kept")
}
