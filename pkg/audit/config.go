package audit

import (
	"os"
	"strconv"
)

// AuditConfig controls audit behavior.
type AuditConfig struct {
	Enabled       bool
	RetentionDays int  // default 90
	LogDenied     bool // record 403 responses
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:       true,
		RetentionDays: 90,
		LogDenied:     true,
	}
}

// AuditConfigFromEnv loads config from SPECTABLE_AUDIT_ENABLED,
// SPECTABLE_AUDIT_RETENTION_DAYS and SPECTABLE_AUDIT_LOG_DENIED.
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if v := os.Getenv("SPECTABLE_AUDIT_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("SPECTABLE_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.RetentionDays = days
		}
	}
	if v := os.Getenv("SPECTABLE_AUDIT_LOG_DENIED"); v != "" {
		cfg.LogDenied, _ = strconv.ParseBool(v)
	}

	return cfg
}
