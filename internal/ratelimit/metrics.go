package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	dispatched     metric.Int64Counter
	admissionDelay metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/crabigator/crabigator-stats/internal/ratelimit")

		var err error
		dispatched, err = meter.Int64Counter(
			"ratelimit.dispatched",
			metric.WithDescription("Work items dispatched by the request scheduler"),
		)
		if err != nil {
			otel.Handle(err)
		}

		admissionDelay, err = meter.Float64Histogram(
			"ratelimit.admission.delay",
			metric.WithDescription("Time between submission and dispatch"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordDispatch(ctx context.Context, queued time.Duration) {
	if dispatched != nil {
		dispatched.Add(ctx, 1)
	}
	if admissionDelay != nil {
		admissionDelay.Record(ctx, queued.Seconds())
	}
}

// PanicError is returned as the result of work that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduled work panicked: %v", e.Value)
}
