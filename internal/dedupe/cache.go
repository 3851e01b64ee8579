// ABOUTME: Thread-safe TTL cache of idempotent request outcomes.
// ABOUTME: Lets retried purchases replay their first response instead of charging twice.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// State is the result of Reserve.
type State int

const (
	// Fresh means the key was unknown and is now reserved for the caller.
	Fresh State = iota
	// Pending means another request holds the reservation.
	Pending
	// Done means the key completed earlier; the stored value is returned.
	Done
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Pending:
		return "pending"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// cacheEntry stores the timestamp, list element, and outcome for a key.
type cacheEntry[V any] struct {
	timestamp time.Time
	element   *list.Element
	done      bool
	value     V
}

// Cache maps keys to the outcome of the first request that used them.
// Entries expire after the TTL and the oldest entry is evicted at capacity.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache[V any] struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry[V]
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache[V]{
		seen:    make(map[string]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Reserve atomically looks up key and reserves it if unknown or expired.
// Only a Fresh caller may call Complete or Release for the key.
func (c *Cache[V]) Reserve(key string) (V, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.seen[key]
	if ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.done {
			return entry.value, Done
		}
		return zero, Pending
	}

	c.reserveLocked(key)
	return zero, Fresh
}

// Complete stores the outcome for a reserved key.
func (c *Cache[V]) Complete(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok {
		// Evicted while the request ran; keep the result anyway.
		entry = c.reserveLocked(key)
	}
	entry.done = true
	entry.value = value
	entry.timestamp = c.now()
	c.order.MoveToBack(entry.element)
}

// Release drops a reservation so the key can be retried, e.g. after a failure.
func (c *Cache[V]) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && !entry.done {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of entries, including expired ones not yet cleaned.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// reserveLocked adds a pending entry. Must be called with mu held.
func (c *Cache[V]) reserveLocked(key string) *cacheEntry[V] {
	if entry, exists := c.seen[key]; exists {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry[V]{
		timestamp: c.now(),
		element:   c.order.PushBack(key),
	}
	c.seen[key] = entry
	return entry
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries, pending ones included.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
