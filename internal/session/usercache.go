// ABOUTME: Read-through cache of the signed-in user's profile
// ABOUTME: Invalidated on login, step-up, logout and self-mutation, but not on refresh

package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bobbytumur/portalctl/internal/cache"
	"github.com/bobbytumur/portalctl/internal/client"
)

const currentUserKey = "currentUser"

// UserFetcher loads the current user's profile
type UserFetcher interface {
	ReadUserMe(ctx context.Context) (*client.User, error)
}

// UserCache serves the current user from memory after the first fetch
type UserCache struct {
	api  UserFetcher
	gate *Gate

	entries *cache.Cache[*client.User]
	group   singleflight.Group

	// gen increments on every invalidation; fetches started under an older gen are not stored
	mu  sync.Mutex
	gen uint64

	unsubscribe func()
}

// NewUserCache creates a cache following store transitions. ttl 0 keeps entries until invalidated.
func NewUserCache(api UserFetcher, store *TokenStore, ttl time.Duration) *UserCache {
	c := &UserCache{
		api:     api,
		gate:    NewGate(store),
		entries: cache.New[*client.User](ttl),
	}
	c.unsubscribe = store.Subscribe(c.onTransition)
	return c
}

func (c *UserCache) onTransition(t Transition) {
	if t.Cause == CauseRefresh {
		return
	}
	c.Invalidate()
}

// Get returns the current user, fetching on a miss
func (c *UserCache) Get(ctx context.Context) (*client.User, error) {
	if err := c.gate.Require(); err != nil {
		return nil, err
	}
	if user, ok := c.entries.Get(currentUserKey); ok {
		return user, nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	ch := c.group.DoChan(currentUserKey, func() (interface{}, error) {
		user, err := c.api.ReadUserMe(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entries.Set(currentUserKey, user)
		}
		c.mu.Unlock()
		return user, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*client.User), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached user; the next Get fetches again
func (c *UserCache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.entries.Clear(currentUserKey)
	c.mu.Unlock()
	c.group.Forget(currentUserKey)
}

// Close stops following the store and releases the cache
func (c *UserCache) Close() {
	c.unsubscribe()
	c.entries.Close()
}
