package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// PeriodicRefresh syncs the cache immediately and then every interval until
// the context is cancelled. Only stale kinds are fetched on each pass. When
// onSync is not nil it receives the outcome of every pass. Panics are
// recovered so one bad pass does not stop the loop.
func PeriodicRefresh(ctx context.Context, c *Cache, interval time.Duration, onSync func(error)) {
	for {
		err := refresh(ctx, c)
		if onSync != nil {
			onSync(err)
		}

		select {
		case <-time.After(interval):
			// continue
		case <-ctx.Done():
			log.Info().Msg("refresh goroutine shutting down gracefully")
			return
		}
	}
}

// refresh performs a single sync with tracing.
func refresh(ctx context.Context, c *Cache) (err error) {
	tracer := otel.Tracer("github.com/crabigator/crabigator-stats/internal/cache")
	ctx, span := tracer.Start(ctx, "refresh_cache")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during cache refresh: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache refresh panicked")
			log.Warn().Interface("panic", r).Msg("cache refresh panicked, recovered")
		}
	}()

	if err := c.Sync(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache refresh failed")
		log.Warn().Err(err).Msg("cache refresh failed, continuing with cached data")
		return err
	}

	span.SetStatus(codes.Ok, "cache refreshed")
	return nil
}
