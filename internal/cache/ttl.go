package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type ttlEntry struct {
	value any
}

// TTL is a tagged cache whose entries expire a fixed duration after they were
// stored. Reads do not extend the lifetime.
type TTL struct {
	cache *ttlcache.Cache[string, *ttlEntry]

	// writeMu orders Set against Invalidate. It is never taken by the
	// eviction callback, so it may be held while calling into ttlcache.
	writeMu sync.Mutex
	// mu guards index and owners.
	mu     sync.Mutex
	index  tagIndex
	owners map[string]*ttlEntry

	stopOnce sync.Once
}

// NewTTL starts a TTL cache. Call Close to stop its expiry goroutine.
func NewTTL(ttl time.Duration) *TTL {
	c := ttlcache.New(
		ttlcache.WithTTL[string, *ttlEntry](ttl),
		ttlcache.WithDisableTouchOnHit[string, *ttlEntry](),
	)
	t := &TTL{
		cache:  c,
		index:  newTagIndex(),
		owners: make(map[string]*ttlEntry),
	}
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *ttlEntry]) {
		if reason == ttlcache.EvictionReasonDeleted {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		// a newer value may already own the key
		if t.owners[item.Key()] == item.Value() {
			delete(t.owners, item.Key())
			t.index.remove(item.Key())
		}
	})
	go c.Start()
	return t
}

func (t *TTL) Get(key string) (any, bool) {
	item := t.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value().value, true
}

// Set never holds t.mu while calling into ttlcache, since eviction callbacks
// may run under the cache's own lock.
func (t *TTL) Set(key string, value any, tags ...string) {
	e := &ttlEntry{value: value}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.cache.Set(key, e, ttlcache.DefaultTTL)

	t.mu.Lock()
	t.owners[key] = e
	t.index.add(key, tags)
	t.mu.Unlock()
}

func (t *TTL) Invalidate(tags ...string) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	keys := t.index.take(tags)
	for _, key := range keys {
		delete(t.owners, key)
	}
	t.mu.Unlock()

	for _, key := range keys {
		t.cache.Delete(key)
	}
}

// Len reports the number of entries, including expired ones not yet swept.
func (t *TTL) Len() int {
	return t.cache.Len()
}

func (t *TTL) Close() error {
	t.stopOnce.Do(t.cache.Stop)
	return nil
}
