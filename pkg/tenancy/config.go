// Package tenancy resolves the shop a request acts on. A deployment either
// serves one fixed shop or requires the shop on every request.
package tenancy

import (
	"os"
	"strings"
)

// Mode controls how the shop is resolved.
type Mode string

const (
	// ModeSingle uses the configured default shop for every request.
	ModeSingle Mode = "single"
	// ModeShop requires the shop per request.
	ModeShop Mode = "shop"
)

// Config selects the resolution mode.
type Config struct {
	Mode        Mode
	DefaultShop string
}

// DefaultConfig returns the multi-shop configuration.
func DefaultConfig() *Config {
	return &Config{Mode: ModeShop}
}

// ConfigFromEnv loads config from environment variables.
// SPECTABLE_TENANCY_MODE, SPECTABLE_DEFAULT_SHOP
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("SPECTABLE_TENANCY_MODE"); v != "" {
		cfg.Mode = Mode(strings.ToLower(v))
	}
	if v := os.Getenv("SPECTABLE_DEFAULT_SHOP"); v != "" {
		cfg.DefaultShop = v
	}
	return cfg
}
