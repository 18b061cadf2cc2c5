package enforcement

import (
	"sync"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

// resultCacheEntry is a doubly-linked list node for the LRU cache. Same
// linked-list shape as the teacher's internal/service/policy_service.go
// ResultCache, adapted to cache policy.Decision values keyed by intent hash.
type resultCacheEntry struct {
	key      uint64
	decision policy.Decision
	prev     *resultCacheEntry
	next     *resultCacheEntry
}

// resultCache provides bounded LRU caching of enforcement decisions, sitting
// in front of the cold per-call evaluation path (spec.md §4.4).
type resultCache struct {
	mu      sync.Mutex
	entries map[uint64]*resultCacheEntry
	head    *resultCacheEntry
	tail    *resultCacheEntry
	maxSize int
}

func newResultCache(maxSize int) *resultCache {
	return &resultCache{entries: make(map[uint64]*resultCacheEntry, maxSize), maxSize: maxSize}
}

func (c *resultCache) get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

func (c *resultCache) put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}
	e := &resultCacheEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*resultCacheEntry, c.maxSize)
	c.head, c.tail = nil, nil
}

func (c *resultCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *resultCache) moveToHeadLocked(e *resultCacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *resultCache) pushHeadLocked(e *resultCacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *resultCache) unlinkLocked(e *resultCacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *resultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
