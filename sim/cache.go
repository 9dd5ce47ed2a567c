// sim/cache.go
package sim

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// CacheEntry is a cached value and the tick it was stored at.
type CacheEntry struct {
	Value      string
	InsertedAt int64
}

// CacheStats are the hit/miss/eviction counters of an LRU store.
type CacheStats struct {
	Hits      int
	Misses    int
	Evictions int
}

// HitRate returns hits / (hits + misses).
func (s CacheStats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// LRU is a bounded key/value store with a TTL and least-recently-used eviction.
// An entry older than TTL reads as absent even while it still occupies a slot.
// Expiry is measured in ticks of the simulation clock.
type LRU struct {
	clock    *Clock
	capacity int
	ttl      int64
	cache    *lru.Cache[int, CacheEntry]
	stats    CacheStats
}

// NewLRU creates an empty store. Panics if capacity or TTL is not positive.
func NewLRU(clock *Clock, cfg CacheConfig) *LRU {
	if clock == nil {
		panic("NewLRU: clock must not be nil")
	}
	if cfg.Capacity < 1 {
		panic(fmt.Sprintf("NewLRU: capacity must be > 0, got %d", cfg.Capacity))
	}
	if cfg.TTL < 1 {
		panic(fmt.Sprintf("NewLRU: ttl must be > 0, got %d", cfg.TTL))
	}
	c := &LRU{clock: clock, capacity: cfg.Capacity, ttl: cfg.TTL}
	cache, err := lru.NewWithEvict[int, CacheEntry](cfg.Capacity, func(int, CacheEntry) {
		c.stats.Evictions++
	})
	if err != nil {
		panic(fmt.Sprintf("NewLRU: %v", err))
	}
	c.cache = cache
	return c
}

// Peek returns the entry for key when it exists and is younger than the TTL.
// It touches neither recency nor statistics.
func (c *LRU) Peek(key int) (CacheEntry, bool) {
	entry, ok := c.cache.Peek(key)
	if !ok || c.clock.Now()-entry.InsertedAt >= c.ttl {
		return CacheEntry{}, false
	}
	return entry, true
}

// Get is Peek that counts the lookup; a hit marks the entry as most
// recently used.
func (c *LRU) Get(key int) (CacheEntry, bool) {
	entry, ok := c.Peek(key)
	if !ok {
		c.stats.Misses++
		return CacheEntry{}, false
	}
	c.stats.Hits++
	c.cache.Get(key)
	return entry, true
}

// recordMiss counts a lookup whose entry was not used.
func (c *LRU) recordMiss() {
	c.stats.Misses++
}

// Set stores value under key at the current tick, evicting the least recently
// used entry first when a new key would exceed the capacity.
func (c *LRU) Set(key int, value string) {
	c.cache.Add(key, CacheEntry{Value: value, InsertedAt: c.clock.Now()})
}

// Contains reports whether key occupies a slot, expired or not. It does not
// touch recency or statistics.
func (c *LRU) Contains(key int) bool {
	return c.cache.Contains(key)
}

// Len returns the number of occupied slots, including expired entries.
func (c *LRU) Len() int {
	return c.cache.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRU) Capacity() int {
	return c.capacity
}

// Stats returns a copy of the store counters.
func (c *LRU) Stats() CacheStats {
	return c.stats
}

// CacheStage serves events from an LRU store keyed by Event.Key. A hit
// resolves successfully without calling the inner stage; a miss calls it and
// stores the result when it succeeds.
type CacheStage struct {
	StageCore
	inner Stage
	store *LRU
}

// NewCacheStage creates a caching decorator around inner.
func NewCacheStage(ctx *SimulationContext, name string, inner Stage, cfg CacheConfig) *CacheStage {
	if inner == nil {
		panic(fmt.Sprintf("NewCacheStage %q: inner stage must not be nil", name))
	}
	return &CacheStage{
		StageCore: newStageCore(ctx, name),
		inner:     inner,
		store:     NewLRU(ctx.Clock, cfg),
	}
}

// Accept runs admission and then the cache lookup.
func (s *CacheStage) Accept(ev *Event, done Done) {
	s.process(ev, s, done)
}

// WorkOn short-circuits on a fresh entry and populates the store on a live success.
func (s *CacheStage) WorkOn(ev *Event, done Done) {
	if entry, ok := s.store.Get(ev.Key); ok {
		serveCached(ev, entry, s.ctx.Now())
		done(nil)
		return
	}
	s.inner.Accept(ev, func(err error) {
		if err == nil {
			s.store.Set(ev.Key, ev.ID)
		}
		done(err)
	})
}

// Store returns the backing LRU.
func (s *CacheStage) Store() *LRU {
	return s.store
}

// Inner returns the wrapped stage.
func (s *CacheStage) Inner() Stage {
	return s.inner
}

func serveCached(ev *Event, entry CacheEntry, now int64) {
	ev.Cached = true
	ev.Age = now - entry.InsertedAt
	logrus.Debugf("[tick %07d] %s served from cache (age %d)", now, ev.ID, ev.Age)
}
