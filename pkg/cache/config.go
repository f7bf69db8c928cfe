package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the resolution cache.
type CacheConfig struct {
	// Enabled controls whether resolutions are cached.
	Enabled bool

	// TTL bounds how long a resolution is served without a rebuild
	// invalidating it.
	TTL time.Duration

	// MaxSize is the maximum number of entries across all shops.
	MaxSize int

	// BroadcastChannel is the redis channel used to fan invalidations out
	// to other replicas. Empty disables broadcasting.
	BroadcastChannel string
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled: true,
		TTL:     60 * time.Second,
		MaxSize: 10000,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - SPECTABLE_CACHE_ENABLED: "true" or "false" (default: "true")
//   - SPECTABLE_CACHE_TTL: duration in seconds (default: 60)
//   - SPECTABLE_CACHE_MAX_SIZE: max entries (default: 10000)
//   - SPECTABLE_CACHE_BROADCAST_CHANNEL: redis channel (default: disabled)
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("SPECTABLE_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("SPECTABLE_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("SPECTABLE_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	if v := os.Getenv("SPECTABLE_CACHE_BROADCAST_CHANNEL"); v != "" {
		cfg.BroadcastChannel = v
	}

	return cfg
}
