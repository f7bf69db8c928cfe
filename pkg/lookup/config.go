package lookup

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CoordinatorConfig controls rebuild debouncing.
type CoordinatorConfig struct {
	// DebounceDelay is how long a request that finds its shop busy waits
	// before re-submitting. Default 250ms.
	DebounceDelay time.Duration

	// Cooldown is how long a shop stays unavailable for a pending rebuild
	// after one finishes. Default 150ms.
	Cooldown time.Duration
}

// DefaultCoordinatorConfig returns the default coordinator configuration.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		DebounceDelay: 250 * time.Millisecond,
		Cooldown:      150 * time.Millisecond,
	}
}

// CoordinatorConfigFromEnv loads config from environment variables.
// SPECTABLE_REBUILD_DEBOUNCE_MS, SPECTABLE_REBUILD_COOLDOWN_MS
func CoordinatorConfigFromEnv() *CoordinatorConfig {
	cfg := DefaultCoordinatorConfig()

	if v := os.Getenv("SPECTABLE_REBUILD_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.DebounceDelay = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("SPECTABLE_REBUILD_COOLDOWN_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Cooldown = time.Duration(n) * time.Millisecond
		}
	}

	return cfg
}

// ServiceConfig controls the outward-facing service.
type ServiceConfig struct {
	// RebuildAllConcurrency bounds how many shops RebuildAllShops rebuilds
	// at once. Default 4.
	RebuildAllConcurrency int

	// SelfHeal enables the one-shot rebuild when a resolve finds the shop's
	// index empty. Default true.
	SelfHeal bool

	// SweepInterval is the period of the leader-only full rebuild sweep.
	// Zero disables the sweep. Default 0.
	SweepInterval time.Duration
}

// DefaultServiceConfig returns the default service configuration.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		RebuildAllConcurrency: 4,
		SelfHeal:              true,
	}
}

// ServiceConfigFromEnv loads config from environment variables.
// SPECTABLE_REBUILD_ALL_CONCURRENCY, SPECTABLE_SELF_HEAL, SPECTABLE_SWEEP_INTERVAL_MINUTES
func ServiceConfigFromEnv() *ServiceConfig {
	cfg := DefaultServiceConfig()

	if v := os.Getenv("SPECTABLE_REBUILD_ALL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RebuildAllConcurrency = n
		}
	}

	if v := os.Getenv("SPECTABLE_SELF_HEAL"); v != "" {
		cfg.SelfHeal = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("SPECTABLE_SWEEP_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SweepInterval = time.Duration(n) * time.Minute
		}
	}

	return cfg
}
