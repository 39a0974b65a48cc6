// Package cache keeps the WaniKani collections the dashboard reads, and only
// refetches a collection once its copy is older than the staleness window.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/crabigator/crabigator-stats/internal/snapshot"
	"github.com/crabigator/crabigator-stats/internal/wanikani"
)

const DefaultStaleAfter = 5 * time.Minute

// Kind names one cached collection.
type Kind string

const (
	KindLevelProgressions Kind = "level_progressions"
	KindAssignments       Kind = "assignments"
	KindReviewStatistics  Kind = "review_statistics"
	KindSummary           Kind = "summary"
)

// Kinds lists every cached collection.
var Kinds = []Kind{KindLevelProgressions, KindAssignments, KindReviewStatistics, KindSummary}

// Fetcher is the part of the WaniKani client the cache reads through.
type Fetcher interface {
	AllLevelProgressions(ctx context.Context, f wanikani.Filter) ([]wanikani.Resource[wanikani.LevelProgression], error)
	AllAssignments(ctx context.Context, f wanikani.Filter) ([]wanikani.Resource[wanikani.Assignment], error)
	AllReviewStatistics(ctx context.Context, f wanikani.Filter) ([]wanikani.Resource[wanikani.ReviewStatistic], error)
	Summary(ctx context.Context) (wanikani.Resource[wanikani.Summary], error)
}

// IsStale reports whether data synced at syncedAt must be refetched at now.
// Data that was never synced is always stale.
func IsStale(now, syncedAt time.Time, window time.Duration) bool {
	return syncedAt.IsZero() || now.Sub(syncedAt) >= window
}

// Cache holds the session snapshot in memory and writes it through to a
// store after every successful fetch. Concurrent reads of the same kind
// share a single fetch.
type Cache struct {
	fetcher    Fetcher
	store      snapshot.Store
	staleAfter time.Duration

	mu      sync.Mutex
	snap    snapshot.Snapshot
	loading map[Kind]bool
	// generation advances on Clear; fetches started before it are dropped.
	generation uint64

	// saveMu orders writes to the store so the last save carries the
	// latest state.
	saveMu sync.Mutex
	flight singleflight.Group
}

type Option func(*Cache)

// WithStaleAfter sets the staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// New creates a cache seeded from initial, typically a restored snapshot.
func New(fetcher Fetcher, store snapshot.Store, initial snapshot.Snapshot, opts ...Option) *Cache {
	initMetrics()

	c := &Cache{
		fetcher:    fetcher,
		store:      store,
		staleAfter: DefaultStaleAfter,
		snap:       initial,
		loading:    map[Kind]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) LevelProgressions(ctx context.Context) (snapshot.LevelProgressions, error) {
	return c.levelProgressions(ctx, false)
}

func (c *Cache) Assignments(ctx context.Context) (snapshot.Assignments, error) {
	return c.assignments(ctx, false)
}

func (c *Cache) ReviewStatistics(ctx context.Context) (snapshot.ReviewStatistics, error) {
	return c.reviewStatistics(ctx, false)
}

func (c *Cache) Summary(ctx context.Context) (snapshot.Summary, error) {
	return c.summary(ctx, false)
}

func (c *Cache) levelProgressions(ctx context.Context, force bool) (snapshot.LevelProgressions, error) {
	return read(ctx, c, KindLevelProgressions, force,
		func(s *snapshot.Snapshot) *snapshot.Entry[snapshot.LevelProgressions] { return &s.LevelProgressions },
		func(ctx context.Context) (snapshot.LevelProgressions, error) {
			return c.fetcher.AllLevelProgressions(ctx, wanikani.Filter{})
		})
}

func (c *Cache) assignments(ctx context.Context, force bool) (snapshot.Assignments, error) {
	return read(ctx, c, KindAssignments, force,
		func(s *snapshot.Snapshot) *snapshot.Entry[snapshot.Assignments] { return &s.Assignments },
		func(ctx context.Context) (snapshot.Assignments, error) {
			return c.fetcher.AllAssignments(ctx, wanikani.Filter{})
		})
}

func (c *Cache) reviewStatistics(ctx context.Context, force bool) (snapshot.ReviewStatistics, error) {
	return read(ctx, c, KindReviewStatistics, force,
		func(s *snapshot.Snapshot) *snapshot.Entry[snapshot.ReviewStatistics] { return &s.ReviewStatistics },
		func(ctx context.Context) (snapshot.ReviewStatistics, error) {
			return c.fetcher.AllReviewStatistics(ctx, wanikani.Filter{})
		})
}

func (c *Cache) summary(ctx context.Context, force bool) (snapshot.Summary, error) {
	return read(ctx, c, KindSummary, force,
		func(s *snapshot.Snapshot) *snapshot.Entry[snapshot.Summary] { return &s.Summary },
		func(ctx context.Context) (snapshot.Summary, error) {
			summary, err := c.fetcher.Summary(ctx)
			if err != nil {
				return nil, err
			}
			return &summary, nil
		})
}

// Sync reads every kind, fetching only those that are stale. Kinds fail
// independently; the returned error joins every failure.
func (c *Cache) Sync(ctx context.Context) error {
	return c.each(ctx, false)
}

// RefreshAll fetches every kind regardless of staleness.
func (c *Cache) RefreshAll(ctx context.Context) error {
	return c.each(ctx, true)
}

// Refresh fetches a single kind regardless of staleness.
func (c *Cache) Refresh(ctx context.Context, kind Kind) error {
	return c.readKind(ctx, kind, true)
}

func (c *Cache) each(ctx context.Context, force bool) error {
	errs := make([]error, len(Kinds))

	var g errgroup.Group
	for i, kind := range Kinds {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic refreshing %s: %v", kind, r)
				}
			}()

			errs[i] = c.readKind(ctx, kind, force)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (c *Cache) readKind(ctx context.Context, kind Kind, force bool) error {
	var err error

	switch kind {
	case KindLevelProgressions:
		_, err = c.levelProgressions(ctx, force)
	case KindAssignments:
		_, err = c.assignments(ctx, force)
	case KindReviewStatistics:
		_, err = c.reviewStatistics(ctx, force)
	case KindSummary:
		_, err = c.summary(ctx, force)
	default:
		err = fmt.Errorf("unknown cache kind %q", kind)
	}

	return err
}

// read returns the cached value for kind, fetching it first when it is stale
// or force is set. On failure the previous value is returned with the error.
//
// Concurrent readers share one fetch. The fetch is not bound to any reader's
// cancellation: a cancelled reader returns early while the others keep
// waiting for the result.
func read[T any](
	ctx context.Context,
	c *Cache,
	kind Kind,
	force bool,
	entry func(*snapshot.Snapshot) *snapshot.Entry[T],
	fetch func(context.Context) (T, error),
) (T, error) {
	c.mu.Lock()
	current := *entry(&c.snap)
	generation := c.generation
	c.mu.Unlock()

	if !force && !IsStale(time.Now(), current.SyncedAt, c.staleAfter) {
		recordRead(ctx, kind, "fresh")
		return current.Value, nil
	}

	shared := c.flight.DoChan(string(kind), func() (_ any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fetchPanic{value: r}
			}
		}()

		c.setLoading(kind, true)
		defer c.setLoading(kind, false)

		detached := context.WithoutCancel(ctx)

		value, err := fetch(detached)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generation != generation {
			c.mu.Unlock()
			return value, nil
		}
		*entry(&c.snap) = snapshot.Entry[T]{Value: value, SyncedAt: time.Now()}
		c.mu.Unlock()

		c.persist(detached, generation)

		return value, nil
	})

	var res singleflight.Result
	select {
	case res = <-shared:
	case <-ctx.Done():
		res = singleflight.Result{Err: ctx.Err()}
	}

	var p fetchPanic
	if errors.As(res.Err, &p) {
		panic(p.value)
	}

	v, err := res.Val, res.Err
	if err != nil {
		recordRead(ctx, kind, "error")
		log.Warn().Err(err).Str("kind", string(kind)).Msg("cache refresh failed, keeping previous data")

		c.mu.Lock()
		previous := entry(&c.snap).Value
		c.mu.Unlock()

		return previous, fmt.Errorf("refreshing %s: %w", kind, err)
	}

	recordRead(ctx, kind, "fetched")
	return v.(T), nil
}

// fetchPanic carries a panic out of a shared fetch so that it is raised
// again in the reader's goroutine.
type fetchPanic struct {
	value any
}

func (p fetchPanic) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// persist writes the current snapshot to the store. Persistence is best
// effort: a failed write leaves the in-memory data authoritative.
func (c *Cache) persist(ctx context.Context, generation uint64) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	snap := c.snap
	cleared := c.generation != generation
	c.mu.Unlock()

	if cleared {
		return
	}

	if err := c.store.Save(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("failed to persist snapshot")
	}
}

func (c *Cache) setLoading(kind Kind, loading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if loading {
		c.loading[kind] = true
	} else {
		delete(c.loading, kind)
	}
}

// Loading reports whether a fetch of kind is in flight.
func (c *Cache) Loading(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading[kind]
}

// Snapshot returns a copy of the cached state.
func (c *Cache) Snapshot() snapshot.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Clear drops the credential and every cached collection, in memory and in
// the store.
func (c *Cache) Clear(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	c.snap = snapshot.Snapshot{}
	c.generation++
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing snapshot store: %w", err)
	}

	return nil
}
