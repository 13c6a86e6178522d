package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	degraded, _ := tel.Degraded()
	assert.False(t, degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{Protocol: "udp"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.TelemetryConfig{SampleRate: 2})
	assert.Error(t, err)
}

func TestNew_EnabledBuildsProviders(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = true

	// OTLP exporters connect lazily, so construction succeeds without a collector.
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, tel.tracerProvider)
	assert.NotNil(t, tel.meterProvider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tel.Shutdown(ctx)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.example.com:4318", stripScheme("https://otel.example.com:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}
