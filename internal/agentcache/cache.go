// Package agentcache implements the bounded agent_id -> Agent mapping of
// §4.1: a plain LRU with eviction-on-insert and no TTL.
package agentcache

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgtux/convogateway/internal/entities"
	"github.com/jgtux/convogateway/internal/lrucache"
)

// DefaultCapacity is N_a from §4.1.
const DefaultCapacity = 50

// Stats mirrors the size/capacity/utilization/eviction counters the spec's
// stats() operation and the "stats" wire command expose.
type Stats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
	Evictions   int64   `json:"total_evictions"`
}

// Cache is the Agent LRU cache.
type Cache struct {
	lru  *lrucache.LRU[string, *entities.Agent]
	hits int64
	miss int64
	log  zerolog.Logger
}

// New constructs a Cache with the given capacity (defaults to
// DefaultCapacity when capacity <= 0).
func New(capacity int, log zerolog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		lru: lrucache.New[string, *entities.Agent](capacity),
		log: log.With().Str("component", "agent_cache").Logger(),
	}
}

// Get returns the agent for id, touching it to most-recently-used on a
// hit.
func (c *Cache) Get(id string) (*entities.Agent, bool) {
	agent, ok := c.lru.Get(id)
	if ok {
		atomic.AddInt64(&c.hits, 1)
		agent.Touch(time.Now())
		return agent, true
	}
	atomic.AddInt64(&c.miss, 1)
	return nil, false
}

// Put inserts or promotes agent, evicting the least-recently-used entry
// first if the cache is at capacity.
func (c *Cache) Put(agent *entities.Agent) {
	c.lru.Put(agent.ID, agent, func(evictedID string, evicted *entities.Agent) {
		c.log.Debug().
			Str("agent_id", evictedID).
			Str("evicted_name", evicted.Name).
			Msg("agent cache evicted least-recently-used entry")
	})
}

// Stats returns a snapshot of the cache's size/capacity/utilization and
// running eviction total.
func (c *Cache) Stats() Stats {
	size := c.lru.Len()
	capacity := c.lru.Capacity()
	utilization := 0.0
	if capacity > 0 {
		utilization = float64(size) / float64(capacity)
	}
	return Stats{
		Size:        size,
		Capacity:    capacity,
		Utilization: utilization,
		Evictions:   c.lru.Evictions(),
	}
}

// Hits and Misses expose the raw hit/miss counters, used by the combined
// "stats" wire command.
func (c *Cache) Hits() int64   { return atomic.LoadInt64(&c.hits) }
func (c *Cache) Misses() int64 { return atomic.LoadInt64(&c.miss) }
