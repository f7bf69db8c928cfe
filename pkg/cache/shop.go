package cache

import "sync"

// keySep cannot appear in a validated shop domain.
const keySep = "\x00"

// ShopCache scopes an LRU by shop. A nil *ShopCache is a valid, always
// missing cache.
//
// Every shop carries a generation that InvalidateShop advances. A writer
// reads the generation before computing a value and passes it to Set; Set
// drops the value if the shop was invalidated in between, so a result read
// before a rebuild can never land in the cache after that rebuild cleared it.
type ShopCache[V any] struct {
	lru *LRU[V]

	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

// NewShopCache creates a shop cache from cfg. It returns nil when caching
// is disabled.
func NewShopCache[V any](cfg *CacheConfig) *ShopCache[V] {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &ShopCache[V]{
		lru:  NewLRU[V](cfg.MaxSize, cfg.TTL),
		gens: make(map[string]uint64),
	}
}

// Get returns the shop's value for key.
func (c *ShopCache[V]) Get(shopID, key string) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	return c.lru.Get(shopID + keySep + key)
}

// Generation returns the shop's current invalidation generation.
func (c *ShopCache[V]) Generation(shopID string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(shopID)
}

// Set stores the shop's value for key if the shop is still at generation
// gen. It reports whether the value was stored.
func (c *ShopCache[V]) Set(shopID, key string, gen uint64, value V) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation(shopID) != gen {
		return false
	}
	c.lru.Set(shopID+keySep+key, value)
	return true
}

// InvalidateShop drops every entry of the shop and advances its generation.
func (c *ShopCache[V]) InvalidateShop(shopID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[shopID]++
	c.lru.InvalidatePrefix(shopID + keySep)
}

// InvalidateAll drops every entry and advances every shop's generation.
func (c *ShopCache[V]) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lru.InvalidateAll()
}

// Size returns the number of cached entries across all shops.
func (c *ShopCache[V]) Size() int {
	if c == nil {
		return 0
	}
	return c.lru.Size()
}

// generation must be called with c.mu held.
func (c *ShopCache[V]) generation(shopID string) uint64 {
	return c.epoch + c.gens[shopID]
}
