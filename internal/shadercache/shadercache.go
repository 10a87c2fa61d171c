// Package shadercache caches compiled shader modules keyed by their WGSL
// source.
//
// The cache is sharded to keep lock contention low when several command
// buffer tasks create pipelines concurrently. Each shard evicts its least
// recently used entry once it holds more than its capacity.
package shadercache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// ShardCount is the number of shards. It is a power of two.
	ShardCount = 8

	// DefaultCapacity is the default number of entries per shard.
	DefaultCapacity = 32

	shardMask = ShardCount - 1
)

// CompileFunc turns WGSL source into SPIR-V words.
type CompileFunc func(wgsl string) ([]uint32, error)

// Stats reports cache activity.
type Stats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns Hits / (Hits + Misses), or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	source string
	spirv  []uint32
	node   *lruNode
}

type shard struct {
	mu      sync.Mutex
	entries map[uint64]*entry
	lru     lruList
}

// Cache maps WGSL source to compiled SPIR-V. It is safe for concurrent use
// and must not be copied.
type Cache struct {
	shards   [ShardCount]shard
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New returns a cache holding up to capacity entries per shard. A capacity
// <= 0 selects DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{capacity: capacity}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]*entry)
	}
	return c
}

// Key returns the FNV-1a hash of src.
func Key(src string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(src)) // never fails
	return h.Sum64()
}

// GetOrCompile returns the SPIR-V for src, calling compile on a miss. The
// second result reports a cache hit. Failed compilations are not cached.
//
// compile runs with the shard locked, so concurrent requests for the same
// source compile it once.
func (c *Cache) GetOrCompile(src string, compile CompileFunc) ([]uint32, bool, error) {
	key := Key(src)
	s := &c.shards[key&shardMask]

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.source == src {
		s.lru.moveToFront(e.node)
		c.hits.Add(1)
		return e.spirv, true, nil
	}
	c.misses.Add(1)

	spirv, err := compile(src)
	if err != nil {
		return nil, false, err
	}

	if e, ok := s.entries[key]; ok {
		// 64-bit collision with a different source; the newer one wins.
		e.source, e.spirv = src, spirv
		s.lru.moveToFront(e.node)
		return spirv, false, nil
	}
	for s.lru.len >= c.capacity {
		old, ok := s.lru.removeOldest()
		if !ok {
			break
		}
		delete(s.entries, old)
		c.evictions.Add(1)
	}
	s.entries[key] = &entry{source: src, spirv: spirv, node: s.lru.pushFront(key)}
	return spirv, false, nil
}

// Len returns the number of cached modules.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Clear drops every entry. Statistics are kept.
func (c *Cache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.entries = make(map[uint64]*entry)
		s.lru = lruList{}
		s.mu.Unlock()
	}
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
