package digest

import (
	"container/list"
	"sync"
)

// FlowCache maps flow hashes to the timestamp of their most recent digest.
// The last write wins regardless of timestamp order. It is safe for concurrent use.
type FlowCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[FlowHash]*list.Element
	// order holds *cacheEntry, most recently written at the front
	order *list.List
}

type cacheEntry struct {
	hash      FlowHash
	timestamp float64
}

// NewFlowCache creates a cache. maxEntries <= 0 means unbounded; otherwise inserting
// a new flow into a full cache evicts the least recently written one.
func NewFlowCache(maxEntries int) *FlowCache {
	return &FlowCache{
		maxEntries: maxEntries,
		entries:    make(map[FlowHash]*list.Element),
		order:      list.New(),
	}
}

// Upsert records timestamp for hash. It returns the evicted flow, if any.
func (c *FlowCache) Upsert(hash FlowHash, timestamp float64) (evicted FlowHash, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.entries[hash]; found {
		el.Value.(*cacheEntry).timestamp = timestamp
		c.order.MoveToFront(el)
		return "", false
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			e := c.order.Remove(oldest).(*cacheEntry)
			delete(c.entries, e.hash)
			evicted, ok = e.hash, true
		}
	}
	c.entries[hash] = c.order.PushFront(&cacheEntry{hash: hash, timestamp: timestamp})
	return evicted, ok
}

// Get returns the last timestamp recorded for hash.
func (c *FlowCache) Get(hash FlowHash) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[hash]
	if !ok {
		return 0, false
	}
	return el.Value.(*cacheEntry).timestamp, true
}

// Len returns the number of cached flows.
func (c *FlowCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns a consistent copy of the cache.
func (c *FlowCache) Snapshot() map[FlowHash]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[FlowHash]float64, len(c.entries))
	for h, el := range c.entries {
		out[h] = el.Value.(*cacheEntry).timestamp
	}
	return out
}
