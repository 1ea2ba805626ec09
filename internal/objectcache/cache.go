// Package cache provides a persistent object cache for compiled pipeline
// schedules, keyed by a content hash over the kernel graph's shape.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

// scheduleTTL is how long a cached schedule is trusted before it is treated
// as a miss and recomputed. Schedules are pure functions of kernel-graph
// shape, so this is generous -- it exists to bound unbounded growth of a
// long-lived store, not because cached schedules go stale on their own.
const scheduleTTL = 30 * 24 * time.Hour

// Store is the pluggable persistence backend a Cache writes through to.
// Values are opaque encoded payloads; TTL expiry is the backend's
// responsibility.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Exists(key string) bool
	List() []string
}

// Cache implements flowforge.ObjectCache over a pluggable Store, encoding
// CachedSchedule values as JSON so the same payload can be written to an
// in-memory store in tests or a Badger-backed store in a long-lived process.
type Cache struct {
	store   Store
	onError func(error)
}

// NewCache returns a Cache backed by an in-memory Store, suitable for tests
// and single-process runs that don't need the schedule cache to survive a
// restart.
func NewCache() *Cache {
	return NewCacheWithStore(NewInMemoryStore())
}

// NewCacheWithStore returns a Cache backed by store.
func NewCacheWithStore(store Store) *Cache {
	return &Cache{store: store}
}

// OnError registers a callback invoked whenever a Store operation fails.
// Load degrades to a cache miss on error, so this hook is the only place a
// failed read surfaces; Store calls the hook and also returns the error.
func (c *Cache) OnError(fn func(error)) *Cache {
	c.onError = fn
	return c
}

func (c *Cache) reportError(err error) {
	if err != nil && c.onError != nil {
		c.onError(err)
	}
}

// Load implements flowforge.ObjectCache.
func (c *Cache) Load(_ context.Context, signature string) (flowforge.CachedSchedule, bool) {
	raw, err := c.store.Get(signature)
	if err != nil {
		c.reportError(err)
		return flowforge.CachedSchedule{}, false
	}
	if raw == nil {
		return flowforge.CachedSchedule{}, false
	}
	var sched flowforge.CachedSchedule
	if err := json.Unmarshal(raw, &sched); err != nil {
		c.reportError(err)
		return flowforge.CachedSchedule{}, false
	}
	return sched, true
}

// Store implements flowforge.ObjectCache.
func (c *Cache) Store(_ context.Context, signature string, sched flowforge.CachedSchedule) error {
	raw, err := json.Marshal(sched)
	if err != nil {
		c.reportError(err)
		return err
	}
	if err := c.store.Set(signature, raw, scheduleTTL); err != nil {
		c.reportError(err)
		return err
	}
	return nil
}

// Clear removes every cached schedule.
func (c *Cache) Clear() error {
	return c.store.Clear()
}

// Delete removes the cached schedule for signature, if any.
func (c *Cache) Delete(signature string) error {
	return c.store.Delete(signature)
}

// Exists reports whether an unexpired entry exists for signature.
func (c *Cache) Exists(signature string) bool {
	return c.store.Exists(signature)
}

// ListKeys returns every signature currently cached.
func (c *Cache) ListKeys() []string {
	return c.store.List()
}

var _ flowforge.ObjectCache = (*Cache)(nil)
