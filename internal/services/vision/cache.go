package vision

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// responseCache expires entries after a TTL (go-cache janitor) and bounds the
// entry count by evicting the least recently used key.
type responseCache struct {
	items      *cache.Cache
	ttl        time.Duration
	maxEntries int

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newResponseCache(ttl time.Duration, maxEntries int) *responseCache {
	c := &responseCache{
		items:      cache.New(ttl, ttl*2),
		ttl:        ttl,
		maxEntries: maxEntries,
		order:      list.New(),
		index:      make(map[string]*list.Element),
	}
	c.items.OnEvicted(func(key string, _ any) {
		c.forget(key)
	})
	return c
}

func (c *responseCache) get(key string) (any, bool) {
	value, ok := c.items.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.mu.Lock()
	if el, found := c.index[key]; found {
		c.order.MoveToFront(el)
	}
	c.mu.Unlock()
	return value, true
}

func (c *responseCache) set(key string, value any) {
	var evicted []string
	c.mu.Lock()
	if el, found := c.index[key]; found {
		c.order.MoveToFront(el)
	} else {
		c.index[key] = c.order.PushFront(key)
	}
	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		k := oldest.Value.(string)
		c.order.Remove(oldest)
		delete(c.index, k)
		evicted = append(evicted, k)
	}
	c.mu.Unlock()

	c.items.Set(key, value, cache.DefaultExpiration)
	// go-cache calls OnEvicted synchronously from Delete, so this must run
	// without c.mu held.
	for _, k := range evicted {
		c.items.Delete(k)
	}
}

func (c *responseCache) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.index[key]; found {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

func (c *responseCache) flush() {
	c.items.Flush()
	c.mu.Lock()
	c.order.Init()
	c.index = make(map[string]*list.Element)
	c.mu.Unlock()
}

func (c *responseCache) stats() CacheStats {
	return CacheStats{
		Entries:    c.items.ItemCount(),
		MaxEntries: c.maxEntries,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		TTL:        c.ttl,
	}
}

// cacheKey hashes the operation, detail and image bytes in order.
func cacheKey(op Operation, detail Detail, images ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(detail))
	for _, img := range images {
		h.Write([]byte{0})
		h.Write(img)
	}
	return string(op) + ":" + hex.EncodeToString(h.Sum(nil))
}
