package admission

import (
	"context"
	"sync"
	"time"
)

// pruneThreshold bounds the entry map under high client-id cardinality:
// when an Incr finds more entries than this, expired windows are swept.
const pruneThreshold = 4096

// MemoryCounters is the in-process CounterStore. Counts reset when the
// fixed window rolls over; entries for idle clients are swept once the map
// crosses pruneThreshold.
type MemoryCounters struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	// now is replaceable for tests.
	now func() time.Time
}

type windowEntry struct {
	windowStart int64
	window      int64
	count       int64
}

// NewMemoryCounters creates an empty in-memory counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Incr implements CounterStore.
func (m *MemoryCounters) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := m.now().UnixNano()
	bucket := now / int64(window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) > pruneThreshold {
		m.prune(now)
	}

	entry, ok := m.entries[key]
	if !ok || entry.windowStart != bucket {
		entry = &windowEntry{windowStart: bucket, window: int64(window)}
		m.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// prune drops entries whose window has rolled over. Caller holds mu.
func (m *MemoryCounters) prune(now int64) {
	for key, entry := range m.entries {
		if now/entry.window != entry.windowStart {
			delete(m.entries, key)
		}
	}
}
