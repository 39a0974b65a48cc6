package snapshot

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	storeOperations metric.Int64Counter
	storeDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/crabigator/crabigator-stats/internal/snapshot")

		var err error
		storeOperations, err = meter.Int64Counter(
			"snapshot.operations",
			metric.WithDescription("Total snapshot store operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		storeDuration, err = meter.Float64Histogram(
			"snapshot.operation.duration",
			metric.WithDescription("Snapshot store operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Store with metrics and span attributes.
type Instrumented struct {
	wrapped Store
	scope   string
}

func NewInstrumented(store Store, scope string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped: store,
		scope:   scope,
	}
}

func (i *Instrumented) Load(ctx context.Context) (Snapshot, bool, error) {
	start := time.Now()

	snap, found, err := i.wrapped.Load(ctx)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.record(ctx, "load", status, time.Since(start))

	return snap, found, err
}

func (i *Instrumented) Save(ctx context.Context, s Snapshot) error {
	start := time.Now()
	err := i.wrapped.Save(ctx, s)
	i.record(ctx, "save", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) Clear(ctx context.Context) error {
	start := time.Now()
	err := i.wrapped.Clear(ctx)
	i.record(ctx, "clear", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented) record(ctx context.Context, operation, status string, duration time.Duration) {
	if storeOperations != nil {
		storeOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("snapshot.scope", i.scope),
				attribute.String("snapshot.operation", operation),
				attribute.String("snapshot.status", status),
			),
		)
	}

	if storeDuration != nil {
		storeDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("snapshot.scope", i.scope),
				attribute.String("snapshot.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("snapshot.scope", i.scope),
		attribute.String("snapshot."+operation+".status", status),
		attribute.Float64("snapshot."+operation+".duration", duration.Seconds()),
	)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
