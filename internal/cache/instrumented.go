package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce sync.Once
	cacheReads  metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/crabigator/crabigator-stats/internal/cache")

		var err error
		cacheReads, err = meter.Int64Counter(
			"cache.reads",
			metric.WithDescription("Cache reads by kind and outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// recordRead counts a read. status is "fresh" when served without fetching,
// "fetched" after a successful fetch, or "error".
func recordRead(ctx context.Context, kind Kind, status string) {
	if cacheReads != nil {
		cacheReads.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.kind", string(kind)),
				attribute.String("cache.status", status),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("cache."+string(kind)+".status", status))
}
