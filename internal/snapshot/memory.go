package snapshot

import (
	"context"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is the session-scoped store: the snapshot lives only as long as the
// process.
type Memory struct {
	cache   *otter.Cache[string, Snapshot]
	counter *stats.Counter
}

// NewMemory creates an in-memory store bounded to maxSize entries.
func NewMemory(maxSize int) *Memory {
	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, Snapshot]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
	})

	return &Memory{
		cache:   cache,
		counter: counter,
	}
}

func (m *Memory) Load(ctx context.Context) (Snapshot, bool, error) {
	s, ok := m.cache.GetIfPresent(Key)
	return s, ok, nil
}

func (m *Memory) Save(ctx context.Context, s Snapshot) error {
	m.cache.Set(Key, s)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.cache.Invalidate(Key)
	return nil
}

func (m *Memory) Close() error {
	m.cache.InvalidateAll()
	return nil
}

// Stats returns the hit and miss counts recorded by the store.
func (m *Memory) Stats() stats.Stats {
	return m.counter.Snapshot()
}
