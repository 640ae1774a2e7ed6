// ABOUTME: In-memory cache with optional TTL-based expiration
// ABOUTME: Thread-safe typed cache using sync.Map with a stoppable cleanup loop

package cache

import (
	"log/slog"
	"sync"
	"time"
)

type entry[V any] struct {
	data      V
	expiresAt time.Time // zero = never expires
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache stores values by string key. A ttl of zero keeps entries until they
// are cleared explicitly.
type Cache[V any] struct {
	store    sync.Map
	ttl      time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	if ttl > 0 {
		go c.startCleanup()
	}
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	val, ok := c.store.Load(key)
	if !ok {
		slog.Debug("Cache miss", "key", key)
		return zero, false
	}

	e := val.(entry[V])
	if e.expired(time.Now()) {
		c.store.CompareAndDelete(key, val)
		slog.Debug("Cache expired", "key", key)
		return zero, false
	}

	slog.Debug("Cache hit", "key", key)
	return e.data, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	e := entry[V]{data: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.store.Store(key, e)
	slog.Debug("Cache set", "key", key, "ttl", ttl)
}

func (c *Cache[V]) Clear(key string) {
	c.store.Delete(key)
}

// Close stops the cleanup goroutine.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache[V]) startCleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.store.Range(func(key, val interface{}) bool {
				if val.(entry[V]).expired(now) {
					c.store.CompareAndDelete(key, val)
				}
				return true
			})
		}
	}
}
