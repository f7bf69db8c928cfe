package store

import (
	"os"
	"strconv"
	"time"
)

// Supported database types.
const (
	DBTypePostgres = "postgres"
	DBTypeMySQL    = "mysql"
	DBTypeSQLite   = "sqlite"
)

// Config holds database and lookup index storage settings.
type Config struct {
	// Type is one of postgres, mysql or sqlite. Default postgres.
	Type string

	// DSN is the driver-specific connection string.
	DSN string

	// BatchSize is the number of lookup rows per INSERT during a rebuild.
	// Default 500.
	BatchSize int

	// MaxOpenConns and MaxIdleConns size the connection pool. Zero keeps
	// the database/sql defaults.
	MaxOpenConns int
	MaxIdleConns int

	// ConnMaxLifetime recycles pooled connections. Zero keeps them forever.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type:      DBTypePostgres,
		BatchSize: 500,
	}
}

// ConfigFromEnv loads config from environment variables.
// SPECTABLE_DB_TYPE, SPECTABLE_DB_DSN, SPECTABLE_REBUILD_BATCH_SIZE,
// SPECTABLE_DB_MAX_OPEN_CONNS, SPECTABLE_DB_MAX_IDLE_CONNS,
// SPECTABLE_DB_CONN_MAX_LIFETIME_MINUTES
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SPECTABLE_DB_TYPE"); v != "" {
		cfg.Type = v
	}
	cfg.DSN = os.Getenv("SPECTABLE_DB_DSN")

	if v := os.Getenv("SPECTABLE_REBUILD_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("SPECTABLE_DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxOpenConns = n
		}
	}
	if v := os.Getenv("SPECTABLE_DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxIdleConns = n
		}
	}
	if v := os.Getenv("SPECTABLE_DB_CONN_MAX_LIFETIME_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ConnMaxLifetime = time.Duration(n) * time.Minute
		}
	}

	return cfg
}
