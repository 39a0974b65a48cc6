// Package snapshot persists the signed-in session and its cached WaniKani
// data as a single document under a fixed key.
package snapshot

import (
	"context"
	"time"

	"github.com/crabigator/crabigator-stats/internal/wanikani"
)

// Key is the fixed key the snapshot document is stored under.
const Key = "crabigator-stats-storage"

// Entry is a cached value together with the time it was fetched. SyncedAt is
// zero until the value has been fetched successfully at least once.
type Entry[T any] struct {
	Value    T         `json:"value"`
	SyncedAt time.Time `json:"synced_at"`
}

// Synced reports whether the entry holds fetched data.
func (e Entry[T]) Synced() bool {
	return !e.SyncedAt.IsZero()
}

type (
	LevelProgressions = []wanikani.Resource[wanikani.LevelProgression]
	Assignments       = []wanikani.Resource[wanikani.Assignment]
	ReviewStatistics  = []wanikani.Resource[wanikani.ReviewStatistic]
	Summary           = *wanikani.Resource[wanikani.Summary]
)

// Snapshot is the whole persisted record: the credential, the scope it was
// saved under, the validated user and every cached collection.
type Snapshot struct {
	Token string                            `json:"api_key"`
	Scope string                            `json:"storage_preference"`
	User  *wanikani.Resource[wanikani.User] `json:"user"`

	LevelProgressions Entry[LevelProgressions] `json:"level_progressions"`
	Assignments       Entry[Assignments]       `json:"assignments"`
	ReviewStatistics  Entry[ReviewStatistics]  `json:"review_statistics"`
	Summary           Entry[Summary]           `json:"summary"`
}

// SignedIn reports whether the snapshot carries a credential.
func (s Snapshot) SignedIn() bool {
	return s.Token != ""
}

// Store keeps at most one snapshot. Implementations are safe for concurrent
// use; the last Save wins.
type Store interface {
	// Load returns the stored snapshot and whether one was found.
	Load(ctx context.Context) (Snapshot, bool, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, s Snapshot) error

	// Clear removes the stored snapshot. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
