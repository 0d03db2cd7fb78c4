// Package subcache provides the read-through cache of active subscriptions
// that feeds the matching pipeline.
package subcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"groupwatch/internal/model"
)

// Loader is the persistent source of active subscriptions.
type Loader interface {
	ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error)
}

// Cache holds an immutable snapshot of active subscriptions refreshed on a
// TTL. The snapshot slice is replaced wholesale on refresh, never mutated,
// so concurrent readers always see a consistent set.
type Cache struct {
	loader   Loader
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
	onReload func()

	group singleflight.Group

	mu            sync.RWMutex
	snapshot      []model.Subscription
	lastRefreshed time.Time
	loaded        bool
	gen           uint64
}

// New creates a Cache over the given loader with the given TTL.
func New(loader Loader, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
		log:    log,
	}
}

// SetClock overrides the time source (useful for testing).
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// SetReloadHook installs a callback fired after every successful reload.
func (c *Cache) SetReloadHook(fn func()) {
	c.onReload = fn
}

// GetActive returns the current snapshot, reloading it first if the TTL has
// expired or Invalidate was called. If the reload fails and a previous
// snapshot exists, the stale snapshot is served and the failure logged; the
// pipeline never blocks on a broken store.
func (c *Cache) GetActive(ctx context.Context) ([]model.Subscription, error) {
	c.mu.RLock()
	fresh := c.loaded && c.now().Sub(c.lastRefreshed) < c.ttl
	snapshot := c.snapshot
	c.mu.RUnlock()

	if fresh {
		return snapshot, nil
	}

	// Concurrent stale readers share a single reload.
	_, err, _ := c.group.Do("reload", func() (any, error) {
		return nil, c.reload(ctx)
	})
	if err != nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.loaded {
			c.log.Warn("subscription reload failed, serving stale snapshot", "error", err)
			return c.snapshot, nil
		}
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, nil
}

// Invalidate forces the next GetActive call to reload. It does not reload
// eagerly, so bursts of mutation events cost one reload, not one each.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.lastRefreshed = time.Time{}
	c.gen++
	c.mu.Unlock()
}

func (c *Cache) reload(ctx context.Context) error {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	subs, err := c.loader.ListActiveSubscriptions(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snapshot = subs
	c.loaded = true
	// An Invalidate that landed while the load was in flight means the
	// loaded set may predate the mutation. Serve it, but leave it marked
	// stale so the next read reloads.
	if gen == c.gen {
		c.lastRefreshed = c.now()
	}
	c.mu.Unlock()
	if c.onReload != nil {
		c.onReload()
	}
	return nil
}
