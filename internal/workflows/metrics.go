package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/issueforge/internal/workflows"

var (
	unitExecutions   metric.Int64Counter
	unitDuration     metric.Float64Histogram
	unitErrorCounter metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for unit activities.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	unitExecutions, err = meter.Int64Counter(
		"issueforge.workflows.unit.executions",
		metric.WithDescription("Total number of unit activity executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create unit execution counter: %v", err))
	}

	unitDuration, err = meter.Float64Histogram(
		"issueforge.workflows.unit.duration",
		metric.WithDescription("Duration of unit activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create unit duration: %v", err))
	}

	unitErrorCounter, err = meter.Int64Counter(
		"issueforge.workflows.unit.errors",
		metric.WithDescription("Number of unit activity errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create unit error counter: %v", err))
	}
}

func init() {
	initMetrics()
}
