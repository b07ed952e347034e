// Package blockcache decouples "a block arrived" from "a block is old
// enough to scan", caching full blocks keyed by (chain, number) with a
// TTL so the indexer's confirmation-delayed scan step doesn't re-fetch a
// block it already holds.
package blockcache

import (
	"sync"
	"time"

	"github.com/nnlgsakib/crypto-manager-engine/chain"
)

type key struct {
	chainID uint64
	number  uint64
}

type entry struct {
	block    *chain.Block
	cachedAt time.Time
}

// Cache is a TTL-bounded in-memory store of fetched blocks. It is safe
// for concurrent use by the per-chain indexer goroutines.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[key]entry
}

// New builds a Cache evicting entries older than ttl on each Cleanup call.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[key]entry),
	}
}

// Put records blk under (chainID, blk.Number).
func (c *Cache) Put(chainID uint64, blk *chain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key{chainID, blk.Number.Uint64()}] = entry{block: blk, cachedAt: time.Now()}
}

// Get returns the cached block for (chainID, number), if present and not
// yet evicted.
func (c *Cache) Get(chainID, number uint64) (*chain.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key{chainID, number}]
	if !ok {
		return nil, false
	}
	return e.block, true
}

// Cleanup evicts every entry older than the cache's TTL. The indexer runs
// this periodically rather than on every Put, matching the periodic
// block-cache cleanup task in the indexer's own schedule.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	evicted := 0
	for k, e := range c.entries {
		if e.cachedAt.Before(cutoff) {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

// Len reports the current number of cached blocks, for metrics/tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
