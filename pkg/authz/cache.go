package authz

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long an authorization decision is reused.
const DefaultCacheTTL = 10 * time.Second

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// CachedAuthorizer remembers decisions of an inner Authorizer for a short
// TTL. Errors are never cached.
type CachedAuthorizer struct {
	inner Authorizer
	ttl   time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewCachedAuthorizer wraps inner with a cache of the given TTL.
func NewCachedAuthorizer(inner Authorizer, ttl time.Duration) *CachedAuthorizer {
	return &CachedAuthorizer{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// Authorize answers from the cache or delegates on a miss.
func (c *CachedAuthorizer) Authorize(ctx context.Context, req AuthzRequest) (bool, error) {
	key := cacheKey(req)
	now := c.now()

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.allowed, nil
	}

	allowed, err := c.inner.Authorize(ctx, req)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	for k, e := range c.cache {
		if !now.Before(e.expiresAt) {
			delete(c.cache, k)
		}
	}
	c.cache[key] = cacheEntry{allowed: allowed, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return allowed, nil
}

func cacheKey(req AuthzRequest) string {
	return strings.Join([]string{req.User, strings.Join(req.Groups, ","), req.Resource, req.Verb}, "\x00")
}
