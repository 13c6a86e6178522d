package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/issueforge/internal/config"
)

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "42")
	ctx = WithPhase(ctx, "planning")

	tl.Info(ctx, "phase started", zap.Int("iteration", 0))

	tl.AssertLogged(t, zapcore.InfoLevel, "phase started")
	tl.AssertField(t, "phase started", "session.id", "42")
	tl.AssertField(t, "phase started", "phase", "planning")
	tl.AssertField(t, "phase started", "iteration", int64(0))
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "poll attempt")
	tl.AssertLogged(t, TraceLevel, "poll attempt")
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("gate").With(zap.String("component", "quality"))
	child.Warn(context.Background(), "below threshold")

	entries := tl.FilterMessage("below threshold").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "gate", entries[0].LoggerName)
	assert.Equal(t, "quality", entries[0].ContextMap()["component"])
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "dropped")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "kept")
	tl.AssertLogged(t, zapcore.InfoLevel, "kept")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Stdout = false
	_, err = NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestNewLogger_Defaults(t *testing.T) {
	l, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	l.Info(context.Background(), "started")
	assert.NoError(t, l.Sync())
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "trace", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("nope")
	assert.Error(t, err)
}

func TestSampled_ErrorsAlwaysPass(t *testing.T) {
	tl := NewTestLogger()
	core := sampled(tl.Underlying().Core(), SamplingConfig{
		Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0,
	})
	z := zap.New(core)
	for i := 0; i < 5; i++ {
		z.Info("repeated")
		z.Error("failure")
	}

	assert.Equal(t, 1, tl.FilterMessage("repeated").Len())
	assert.Equal(t, 5, tl.FilterMessage("failure").Len())
}
