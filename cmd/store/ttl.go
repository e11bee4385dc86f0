// Package store keeps extraction state: an inactivity-evicting cache for live
// sessions and jobs, and checkpoint stores that let an extraction resume after
// the process that started it is gone.
package store

import (
	"sort"
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value      V
	lastAccess time.Time
}

// TTLCache maps string keys to values and drops entries that have not been
// touched for longer than the configured TTL.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*ttlEntry[V]
	ttl     time.Duration
	now     func() time.Time
	onEvict func(key string, value V)

	stop     chan struct{}
	stopOnce sync.Once
}

// TTLOption configures a TTLCache.
type TTLOption[V any] func(*TTLCache[V])

// WithEvictCallback is called, outside the cache lock, for every entry removed
// by expiry or Delete.
func WithEvictCallback[V any](fn func(key string, value V)) TTLOption[V] {
	return func(c *TTLCache[V]) {
		c.onEvict = fn
	}
}

// WithClock replaces time.Now.
func WithClock[V any](now func() time.Time) TTLOption[V] {
	return func(c *TTLCache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTTLCache creates a cache. A non-positive ttl disables expiry.
func NewTTLCache[V any](ttl time.Duration, opts ...TTLOption[V]) *TTLCache[V] {
	c := &TTLCache[V]{
		entries: make(map[string]*ttlEntry[V]),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores value under key and marks it as accessed.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &ttlEntry[V]{value: value, lastAccess: c.now()}
}

// Get returns the value for key and refreshes its access time.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.expired(entry) {
		var zero V
		return zero, false
	}
	entry.lastAccess = c.now()
	return entry.value, true
}

// Peek returns the value for key without refreshing it.
func (c *TTLCache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.expired(entry) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Touch refreshes the access time of key. It reports whether key was present.
func (c *TTLCache[V]) Touch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	entry.lastAccess = c.now()
	return true
}

// Delete removes key and runs the evict callback.
func (c *TTLCache[V]) Delete(key string) bool {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok && c.onEvict != nil {
		c.onEvict(key, entry.value)
	}
	return ok
}

// Len returns the number of entries, expired ones included until the next sweep.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the live keys in sorted order.
func (c *TTLCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key, entry := range c.entries {
		if !c.expired(entry) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// EvictExpired removes every expired entry and returns how many were removed.
func (c *TTLCache[V]) EvictExpired() int {
	type evicted struct {
		key   string
		value V
	}

	c.mu.Lock()
	var removed []evicted
	for key, entry := range c.entries {
		if c.expired(entry) {
			removed = append(removed, evicted{key: key, value: entry.value})
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, e := range removed {
			c.onEvict(e.key, e.value)
		}
	}
	return len(removed)
}

// StartJanitor sweeps expired entries every interval until Close is called.
func (c *TTLCache[V]) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.EvictExpired()
			}
		}
	}()
}

// Close stops the janitor. Entries are left in place.
func (c *TTLCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTLCache[V]) expired(entry *ttlEntry[V]) bool {
	return c.ttl > 0 && c.now().Sub(entry.lastAccess) > c.ttl
}
