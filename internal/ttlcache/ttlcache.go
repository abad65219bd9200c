// Package ttlcache provides a generic, bounded LRU cache with TTL expiry and
// version-tagged invalidation, used for the balancer's picker cache and
// address cache.
package ttlcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Factory builds a fresh value for a cache miss or a version mismatch.
type Factory[V any] func() (V, error)

// Cleanup is invoked, if registered, when a value is evicted — by
// capacity, by TTL, or by a version change.
type Cleanup[V any] func(value V)

type entry[V any] struct {
	key       string
	value     V
	version   string
	expiresAt time.Time
}

// Cache is a generic LRU+TTL cache keyed by string, with a version tag
// attached to every stored value. A Lookup whose version argument does not
// match the stored entry's version evicts the stale entry (running its
// Cleanup, if the cache was constructed with one) and re-invokes the
// factory.
type Cache[V any] struct {
	name       string
	maxEntries int
	ttl        time.Duration
	cleanup    Cleanup[V]

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits, misses, evictions int64
}

// New creates a Cache with the given capacity and TTL. name is used only as
// an OpenTelemetry span attribute so several caches (picker, address) are
// distinguishable.
func New[V any](name string, maxEntries int, ttl time.Duration, cleanup Cleanup[V]) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Cache[V]{
		name:       name,
		maxEntries: maxEntries,
		ttl:        ttl,
		cleanup:    cleanup,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
	}
}

const tracerName = "avapigw/ttlcache"

// Lookup returns the cached value for key if present, not expired, and
// tagged with version; otherwise it evicts any stale entry and invokes
// factory to build and store a fresh one.
func (c *Cache[V]) Lookup(ctx context.Context, key, version string, factory Factory[V]) (V, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "ttlcache.Lookup",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.name", c.name),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		fresh := (c.ttl <= 0 || time.Now().Before(e.expiresAt)) && e.version == version
		if fresh {
			c.eviction.MoveToFront(elem)
			c.hits++
			span.SetAttributes(attribute.Bool("cache.hit", true))
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		c.removeElementLocked(elem)
	}
	c.misses++
	c.mu.Unlock()

	span.SetAttributes(attribute.Bool("cache.hit", false))

	value, err := factory()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	e := &entry[V]{key: key, value: value, version: version}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	elem := c.eviction.PushFront(e)
	c.items[key] = elem
	for c.eviction.Len() > c.maxEntries {
		c.evictOldestLocked()
	}
	c.mu.Unlock()

	return value, nil
}

// Invalidate evicts key unconditionally, running Cleanup if present.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElementLocked(elem)
	}
}

// Close evicts every entry, running Cleanup for each.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.eviction.Front(); elem != nil; {
		next := elem.Next()
		c.removeElementLocked(elem)
		elem = next
	}
}

// Stats reports hit/miss/eviction counters and current size.
type Stats struct {
	Hits, Misses, Evictions int64
	Size                    int
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: c.eviction.Len()}
}

func (c *Cache[V]) evictOldestLocked() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElementLocked(elem)
		c.evictions++
	}
}

// removeElementLocked must be called with c.mu held.
func (c *Cache[V]) removeElementLocked(elem *list.Element) {
	c.eviction.Remove(elem)
	e := elem.Value.(*entry[V])
	delete(c.items, e.key)
	if c.cleanup != nil {
		c.cleanup(e.value)
	}
}
