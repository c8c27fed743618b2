package cache

import (
	"sync"
	"time"
)

// Item represents a cached value with expiration
type Item[V any] struct {
	Value      V
	Expiration int64
	insertedAt int64
}

// Expired checks if the cache item has expired
func (item Item[V]) Expired(now int64) bool {
	if item.Expiration == 0 {
		return false
	}
	return now > item.Expiration
}

// Options configures a Cache
type Options struct {
	// TTL is the default expiration; zero keeps items until evicted
	TTL time.Duration
	// CleanupInterval controls the expired-item sweep; zero disables it
	CleanupInterval time.Duration
	// MaxItems bounds the cache; zero means unbounded
	MaxItems int
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[V any] struct {
	items    map[string]Item[V]
	mu       sync.RWMutex
	opts     Options
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts the cleanup sweep when configured
func New[V any](opts Options) *Cache[V] {
	c := &Cache[V]{
		items: make(map[string]Item[V]),
		opts:  opts,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		go c.startCleanupTimer()
	}

	return c
}

// Set adds an item to the cache with the default expiration
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithExpiration(key, value, c.opts.TTL)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	now := c.now()
	var exp int64
	if d > 0 {
		exp = now.Add(d).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictOldest()
	}

	c.items[key] = Item[V]{
		Value:      value,
		Expiration: exp,
		insertedAt: now.UnixNano(),
	}
}

// Get retrieves an item from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	item, found := c.items[key]
	if !found || item.Expired(c.now().UnixNano()) {
		return zero, false
	}

	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Close stops the cleanup sweep
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[V]) startCleanupTimer() {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	for k, v := range c.items {
		if v.Expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest removes the earliest inserted item. Caller holds the lock.
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest int64
	first := true

	for k, v := range c.items {
		if first || v.insertedAt < oldest {
			oldestKey = k
			oldest = v.insertedAt
			first = false
		}
	}

	if first {
		return
	}

	delete(c.items, oldestKey)
}
