package imaging

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// TemplateCache provides thread-safe caching of per-template results, such as
// rasterized pages or detected zones, to avoid redundant rendering.
//
// Entries are keyed by the SHA-256 of the template bytes (see Key), so the same
// upload submitted twice under different file names hits the same entry.
//
// # Memory Management
//
// When maxEntries is positive, adding an entry beyond the limit evicts the
// oldest entry. A limit of zero keeps every entry until Evict or Clear.
//
// # Example Usage
//
//	cache := imaging.NewTemplateCache[*raster.Page](16)
//	key := imaging.Key(data)
//	page, ok := cache.Get(key)
//	if !ok {
//	    page, err = rasterizer.Rasterize(ctx, data)
//	    ...
//	    cache.Put(key, page)
//	}
type TemplateCache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]V
	order      []string
	maxEntries int
}

// NewTemplateCache creates an empty cache holding at most maxEntries values.
func NewTemplateCache[V any](maxEntries int) *TemplateCache[V] {
	return &TemplateCache[V]{
		entries:    make(map[string]V),
		maxEntries: maxEntries,
	}
}

// Key returns the cache key for a template's raw bytes.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value for key.
func (c *TemplateCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores value under key, evicting the oldest entry when full.
func (c *TemplateCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = value

	for c.maxEntries > 0 && len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Evict removes key from the cache. Missing keys are ignored.
func (c *TemplateCache[V]) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear removes every entry.
func (c *TemplateCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]V)
	c.order = nil
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *TemplateCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
