package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/events"
	"github.com/fyrsmithlabs/issueforge/internal/execution"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/secrets"
	"github.com/fyrsmithlabs/issueforge/internal/session"
	"github.com/fyrsmithlabs/issueforge/internal/store"
	"github.com/fyrsmithlabs/issueforge/internal/store/memory"
)

func testApp(mode, runner string) *app {
	cfg := config.Default()
	cfg.Execution.Mode = mode
	cfg.Execution.Runner = runner
	return &app{
		cfg:      cfg,
		logger:   logging.NewNop(),
		scrubber: secrets.New(false),
		events:   events.Nop{},
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "Version:    "+version)
	assert.Contains(t, out.String(), "Commit:")
}

func TestFactory_LocalSequential(t *testing.T) {
	rt := testApp(config.ModeSequential, config.RunnerActions)
	sess := session.New("octo", "widgets", 42, "Widget cache", "Cache widgets.", time.Now())

	env, err := rt.factory(localStore(t.TempDir(), "main")).NewEnv(context.Background(), sess)
	require.NoError(t, err)
	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Agent)
	assert.IsType(t, &execution.Sequential{}, env.Strategy)
	assert.Equal(t, events.Nop{}, env.Events)
}

func TestDispatcherSelection(t *testing.T) {
	sess := session.New("octo", "widgets", 42, "Widget cache", "Cache widgets.", time.Now())
	st := memory.New(store.Target{Owner: "octo", Repo: "widgets", Issue: 42, Branch: sess.Branch})

	assert.Nil(t, testApp(config.ModeSequential, config.RunnerActions).dispatcher(st, sess))
	assert.IsType(t, &execution.ActionsDispatcher{}, testApp(config.ModeAuto, config.RunnerActions).dispatcher(st, sess))
	assert.Nil(t, testApp(config.ModeAuto, config.RunnerTemporal).dispatcher(st, sess), "no temporal client")

	env, err := testApp(config.ModeAuto, config.RunnerActions).factory(
		func(context.Context, store.Target) (store.ContentStore, error) { return st, nil },
	).NewEnv(context.Background(), sess)
	require.NoError(t, err)
	assert.IsType(t, &execution.Fallback{}, env.Strategy)
}

func TestReadRequirements(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.md")
	require.NoError(t, os.WriteFile(path, []byte("\n  Cache widgets.\n"), 0o600))

	req, err := readRequirements(path)
	require.NoError(t, err)
	assert.Equal(t, "Cache widgets.", req)

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = readRequirements(empty)
	assert.Error(t, err)

	_, err = readRequirements(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}
