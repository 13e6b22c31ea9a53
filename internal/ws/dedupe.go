package ws

import (
	"sync"
	"time"
)

const (
	dedupeCap = 200
	dedupeTTL = 60 * time.Second
)

type dedupeEntry struct {
	id string
	at time.Time
}

// dedupeCache remembers recently delivered message ids at the consuming edge.
// Best effort only: the broker produces exactly one canonical message per
// publish, this just guards against retransmission during reconnect races and
// relay echo.
type dedupeCache struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ids   map[string]time.Time
	order []dedupeEntry
}

func newDedupeCache(capacity int, ttl time.Duration) *dedupeCache {
	return &dedupeCache{
		cap: capacity,
		ttl: ttl,
		ids: make(map[string]time.Time, capacity),
	}
}

// Add records id and reports whether it was new. A false return means the id
// was already delivered within the TTL and must be suppressed.
func (d *dedupeCache) Add(id string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked(now)

	if at, ok := d.ids[id]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.ids[id] = now
	d.order = append(d.order, dedupeEntry{id: id, at: now})
	if len(d.order) > d.cap {
		evicted := d.order[0]
		d.order = d.order[1:]
		// Only drop the map entry if it was not refreshed since.
		if at, ok := d.ids[evicted.id]; ok && at.Equal(evicted.at) {
			delete(d.ids, evicted.id)
		}
	}
	return true
}

func (d *dedupeCache) pruneLocked(now time.Time) {
	for len(d.order) > 0 && now.Sub(d.order[0].at) >= d.ttl {
		expired := d.order[0]
		d.order = d.order[1:]
		if at, ok := d.ids[expired.id]; ok && at.Equal(expired.at) {
			delete(d.ids, expired.id)
		}
	}
}

func (d *dedupeCache) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}
