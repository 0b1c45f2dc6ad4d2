// Package cache provides the counter and value caches used to track generated datasets.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the in-process cache and as L1 in two-phase caching.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// expired reports whether a deadline has passed. A zero deadline never expires.
func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, runID string, key string) ([]byte, error) {
	if runID == "" {
		return nil, ErrRunIDRequired
	}

	fullKey := c.makeKey(runID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if expired(entry.expiresAt, time.Now()) {
		c.removeElement(elem)
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache. A non-positive ttl keeps the value until evicted.
func (c *LRUCache) Set(ctx context.Context, runID string, key string, value []byte, ttl time.Duration) error {
	if runID == "" {
		return ErrRunIDRequired
	}

	fullKey := c.makeKey(runID, key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = deadline(now, ttl)
		return nil
	}

	entry := &cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: deadline(now, ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[fullKey] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, runID string, key string) error {
	if runID == "" {
		return ErrRunIDRequired
	}

	fullKey := c.makeKey(runID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// IncrementCounter atomically adds delta to a counter. An expired counter restarts from zero.
func (c *LRUCache) IncrementCounter(ctx context.Context, runID string, key string, delta int64, window time.Duration) (int64, error) {
	if runID == "" {
		return 0, ErrRunIDRequired
	}

	fullKey := c.makeKey(runID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.counters[fullKey]

	if !ok || expired(entry.expiresAt, now) {
		c.counters[fullKey] = &counterEntry{
			count:     delta,
			expiresAt: deadline(now, window),
		}
		return delta, nil
	}

	entry.count += delta
	return entry.count, nil
}

// GetCounter returns a counter value, 0 if absent or expired.
func (c *LRUCache) GetCounter(ctx context.Context, runID string, key string) (int64, error) {
	if runID == "" {
		return 0, ErrRunIDRequired
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.counters[c.makeKey(runID, "counter:"+key)]
	if !ok || expired(entry.expiresAt, time.Now()) {
		return 0, nil
	}
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) makeKey(runID, key string) string {
	return runID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}
