package orchestrator

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/issueforge/internal/orchestrator"

var (
	phaseDuration    metric.Float64Histogram
	phaseTransitions metric.Int64Counter
	phaseFailures    metric.Int64Counter
	gateIterations   metric.Int64Counter
	sessionsStarted  metric.Int64Counter
	sessionRestarts  metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for the pipeline.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	phaseDuration, err = meter.Float64Histogram(
		"issueforge.orchestrator.phase.duration",
		metric.WithDescription("Duration of pipeline phases"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create phase duration histogram: %v", err))
	}

	phaseTransitions, err = meter.Int64Counter(
		"issueforge.orchestrator.phase.transitions",
		metric.WithDescription("Number of phase transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create phase transition counter: %v", err))
	}

	phaseFailures, err = meter.Int64Counter(
		"issueforge.orchestrator.phase.failures",
		metric.WithDescription("Number of phases that failed a session"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create phase failure counter: %v", err))
	}

	gateIterations, err = meter.Int64Counter(
		"issueforge.orchestrator.gate.iterations",
		metric.WithDescription("Number of quality gate iterations"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create gate iteration counter: %v", err))
	}

	sessionsStarted, err = meter.Int64Counter(
		"issueforge.orchestrator.sessions.started",
		metric.WithDescription("Number of session runs started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create session counter: %v", err))
	}

	sessionRestarts, err = meter.Int64Counter(
		"issueforge.orchestrator.sessions.restarts",
		metric.WithDescription("Number of session restarts taken"),
		metric.WithUnit("{restart}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create restart counter: %v", err))
	}
}

func init() {
	initMetrics()
}
