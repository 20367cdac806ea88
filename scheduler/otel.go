package scheduler

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/notnil/dashsim/scheduler"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
