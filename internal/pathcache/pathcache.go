// Package pathcache reuses previously computed movement paths for nearby
// start and end points.
package pathcache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/basket/forager/internal/world"
)

const (
	DefaultHitRadius  = 3.0
	DefaultMaxEntries = 500
	DefaultMaxAge     = 10 * time.Minute
)

// Config tunes a Cache. Zero values fall back to defaults.
type Config struct {
	// HitRadius is the largest cell distance at which a stored endpoint
	// still matches a query endpoint.
	HitRadius  float64
	MaxEntries int
	Now        func() time.Time
}

type entry struct {
	from, to world.Vec3
	path     []world.Vec3
	stored   time.Time
	hits     int
}

// Cache is an approximate-match path store. Positions are rounded to
// integer cells before comparison.
type Cache struct {
	hitRadius  float64
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries []*entry
	hits    int
	misses  int
}

// New creates a Cache.
func New(cfg Config) *Cache {
	c := &Cache{
		hitRadius:  cfg.HitRadius,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
	}
	if c.hitRadius <= 0 {
		c.hitRadius = DefaultHitRadius
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultMaxEntries
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Lookup returns a cached path adapted to start at from, or nil on a miss.
// An entry matches when both endpoints are within the hit radius and it is
// younger than maxAge. The returned points are the stored ones shifted by
// the offset between the stored start cell and from's cell.
func (c *Cache) Lookup(from, to world.Vec3, maxAge time.Duration) []world.Vec3 {
	fromCell, toCell := from.Cell(), to.Cell()
	cutoff := c.now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	var best *entry
	bestScore := 0.0
	for _, e := range c.entries {
		if maxAge > 0 && e.stored.Before(cutoff) {
			continue
		}
		df := e.from.Distance(fromCell)
		dt := e.to.Distance(toCell)
		if df > c.hitRadius || dt > c.hitRadius {
			continue
		}
		if score := df + dt; best == nil || score < bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		c.misses++
		return nil
	}
	c.hits++
	best.hits++

	delta := fromCell.Sub(best.from)
	out := make([]world.Vec3, len(best.path))
	for i, p := range best.path {
		out[i] = p.Add(delta)
	}
	return out
}

// Store records a path from from to to. When the cache is full the oldest
// entry is evicted.
func (c *Cache) Store(from, to world.Vec3, path []world.Vec3) {
	if len(path) == 0 {
		return
	}
	e := &entry{
		from:   from.Cell(),
		to:     to.Cell(),
		path:   append([]world.Vec3(nil), path...),
		stored: c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace an entry with identical endpoints rather than duplicating it.
	for i, old := range c.entries {
		if old.from == e.from && old.to == e.to {
			c.entries[i] = e
			return
		}
	}
	if len(c.entries) >= c.maxEntries {
		oldest := 0
		for i, old := range c.entries {
			if old.stored.Before(c.entries[oldest].stored) {
				oldest = i
			}
		}
		c.entries = append(c.entries[:oldest], c.entries[oldest+1:]...)
	}
	c.entries = append(c.entries, e)
}

// Trim drops entries older than maxAge and returns how many were removed.
func (c *Cache) Trim(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	removed := 0
	for _, e := range c.entries {
		if e.stored.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = nil
	}
	c.entries = kept
	if removed > 0 {
		slog.Debug("path cache trim", "removed", removed, "remaining", len(kept))
	}
	return removed
}

// Stats reports the entry count and lifetime hit/miss counters.
type Stats struct {
	Entries int
	Hits    int
	Misses  int
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
