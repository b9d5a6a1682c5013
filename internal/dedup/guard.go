// Package dedup provides a bounded set of processed transaction identifiers.
package dedup

import "sync"

// Default bounds.
const (
	DefaultHighWater = 2000
	DefaultEvict     = 500
)

type entry struct {
	id  string
	seq uint64
}

// Guard admits each transaction ID once. When the set grows past the
// high-water mark the oldest admitted entries are evicted in bulk.
// Thread-safe.
type Guard struct {
	mu        sync.Mutex
	highWater int
	evict     int
	seq       uint64
	ids       map[string]uint64 // id -> admission seq
	order     []entry           // admission order, may hold stale entries after Forget
}

// New creates a guard. Non-positive values fall back to the defaults; an
// eviction batch larger than highWater is clamped.
func New(highWater, evict int) *Guard {
	if highWater <= 0 {
		highWater = DefaultHighWater
	}
	if evict <= 0 {
		evict = DefaultEvict
	}
	if evict > highWater {
		evict = highWater
	}
	return &Guard{
		highWater: highWater,
		evict:     evict,
		ids:       make(map[string]uint64, highWater+1),
		order:     make([]entry, 0, highWater+1),
	}
}

// AdmitOnce returns true the first time id is seen.
func (g *Guard) AdmitOnce(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.ids[id]; ok {
		return false
	}
	g.seq++
	g.ids[id] = g.seq
	g.order = append(g.order, entry{id: id, seq: g.seq})

	if len(g.ids) > g.highWater {
		g.evictOldest()
	} else if len(g.order) > 2*g.highWater {
		g.compact()
	}
	return true
}

// Forget releases id so a later notification can admit it again.
func (g *Guard) Forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, id)
}

// Len returns the number of admitted IDs.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

// evictOldest drops the g.evict oldest live entries. Queue entries whose seq
// no longer matches the map were forgotten (and possibly re-admitted later)
// and are skipped without counting.
func (g *Guard) evictOldest() {
	removed := 0
	i := 0
	for ; i < len(g.order) && removed < g.evict; i++ {
		e := g.order[i]
		if seq, ok := g.ids[e.id]; ok && seq == e.seq {
			delete(g.ids, e.id)
			removed++
		}
	}
	remaining := copy(g.order, g.order[i:])
	g.order = g.order[:remaining]
}

// compact drops queue entries left behind by Forget.
func (g *Guard) compact() {
	live := g.order[:0]
	for _, e := range g.order {
		if seq, ok := g.ids[e.id]; ok && seq == e.seq {
			live = append(live, e)
		}
	}
	g.order = live
}
