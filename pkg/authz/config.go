package authz

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// AuthzMode selects the authorization backend.
type AuthzMode string

const (
	// AuthzModeNone disables authorization checks.
	AuthzModeNone AuthzMode = "none"
	// AuthzModeSAR uses Kubernetes SubjectAccessReview.
	AuthzModeSAR AuthzMode = "sar"
)

// Config selects and tunes the authorizer.
type Config struct {
	Mode     AuthzMode
	CacheTTL time.Duration
}

// DefaultConfig returns authorization disabled.
func DefaultConfig() *Config {
	return &Config{Mode: AuthzModeNone, CacheTTL: DefaultCacheTTL}
}

// ConfigFromEnv reads SPECTABLE_AUTHZ_MODE and SPECTABLE_AUTHZ_CACHE_TTL.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("SPECTABLE_AUTHZ_MODE"); v != "" {
		switch mode := AuthzMode(strings.ToLower(v)); mode {
		case AuthzModeNone, AuthzModeSAR:
			cfg.Mode = mode
		default:
			return nil, fmt.Errorf("invalid SPECTABLE_AUTHZ_MODE %q: must be %q or %q", v, AuthzModeNone, AuthzModeSAR)
		}
	}

	if v := os.Getenv("SPECTABLE_AUTHZ_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SPECTABLE_AUTHZ_CACHE_TTL %q: %w", v, err)
		}
		cfg.CacheTTL = ttl
	}

	return cfg, nil
}
