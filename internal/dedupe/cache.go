// ABOUTME: Thread-safe TTL cache replaying the first result stored under a key
// ABOUTME: Backs Idempotency-Key handling so retried writes are applied once

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key    string
	value  V
	stored time.Time
}

// Cache holds at most maxSize results for ttl each. Entries are kept in
// insertion order so eviction of the oldest is O(1).
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. A nil clock uses time.Now.
func New[V any](ttl time.Duration, maxSize int, now func() time.Time) *Cache[V] {
	if now == nil {
		now = time.Now
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Get returns the live value stored under key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().Sub(e.stored) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Put stores value under key unless a live value is already there, and
// returns whichever value the key now holds. The first writer wins.
func (c *Cache[V]) Put(key string, value V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		if now.Sub(e.stored) < c.ttl {
			return e.value
		}
		c.order.Remove(el)
		delete(c.entries, key)
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = c.order.PushBack(&entry[V]{key: key, value: value, stored: now})
	return value
}

// must be called with mu held
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.entries, front.Value.(*entry[V]).key)
}

// Sweep drops entries stored ttl or more before now and returns how many.
func (c *Cache[V]) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry[V])
		if now.Sub(e.stored) < c.ttl {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, e.key)
		removed++
		el = next
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
