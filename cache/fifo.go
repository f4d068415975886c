// Package cache provides a small bounded TTL cache with first-in-first-out eviction.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// FIFO is a size-bounded cache whose entries expire after a fixed TTL.
// When full, the entry inserted earliest is evicted; reads do not refresh an
// entry's position. Safe for concurrent use.
type FIFO[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]entry[V]
	order   []string

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewFIFO creates a cache holding at most max entries for ttl each.
func NewFIFO[V any](ttl time.Duration, max int) *FIFO[V] {
	if max <= 0 {
		max = 100
	}
	return &FIFO[V]{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]entry[V]),
		Now:     time.Now,
	}
}

// Get returns the cached value while now - fetchedAt < ttl.
func (c *FIFO[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.Now().Sub(e.fetchedAt) >= c.ttl {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, stamping it with the current time. Re-setting an
// existing key moves it to the back of the eviction queue.
func (c *FIFO[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.removeFromOrder(key)
	}
	for len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = entry[V]{value: value, fetchedAt: c.Now()}
	c.order = append(c.order, key)
}

func (c *FIFO[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
