package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
)

// InfoCache keeps the info records of the most recently used sources in
// memory. It is safe for concurrent use.
type InfoCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewInfoCache holds up to maxEntries records, zero meaning no limit.
func NewInfoCache(maxEntries int) *InfoCache {
	return &InfoCache{lru: lru.New(maxEntries)}
}

// Get returns the record of a source.
func (c *InfoCache) Get(id operation.Identifier) (processor.Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(id)
	if !ok {
		return processor.Info{}, false
	}
	return v.(processor.Info), true
}

// Put stores the record of a source, evicting the least recently used
// one when full.
func (c *InfoCache) Put(id operation.Identifier, info processor.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(id, info)
}

// Remove forgets a source.
func (c *InfoCache) Remove(id operation.Identifier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(id)
}

// Clear forgets every source.
func (c *InfoCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Clear()
}

// Len returns the number of records.
func (c *InfoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
