// Package ha provides high-availability primitives for running several
// replicas against one database: keyed locks that serialize per-shop
// rebuilds across processes, migration locking, and Kubernetes
// Lease-based leader election for singleton loops.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lock backends.
const (
	LockBackendLocal    = "local"
	LockBackendDatabase = "database"
	LockBackendRedis    = "redis"
)

// HAConfig holds configuration for high-availability features.
type HAConfig struct {
	// LeaderElectionEnabled controls whether Kubernetes Lease-based leader
	// election is active. When false, the instance behaves as the sole
	// leader (suitable for single-replica deployments).
	LeaderElectionEnabled bool

	// LeaseName is the name of the Kubernetes Lease resource used for
	// leader election.
	LeaseName string

	// LeaseNamespace is the namespace of the Lease resource.
	LeaseNamespace string

	// LeaseDuration is the duration that non-leader candidates will wait
	// before trying to acquire the lease.
	LeaseDuration time.Duration

	// RenewDeadline is the duration that the acting leader will retry
	// refreshing the lease before giving up.
	RenewDeadline time.Duration

	// RetryPeriod is the duration between leader election retries.
	RetryPeriod time.Duration

	// MigrationLockEnabled controls whether database migration locking
	// is used to prevent concurrent schema changes.
	MigrationLockEnabled bool

	// Identity is the unique identity of this instance for leader election.
	// Defaults to the pod name (from POD_NAME env var or hostname).
	Identity string

	// LockBackend selects the per-shop rebuild lock: "local" for a single
	// process, "database" (postgres advisory lock or lock table) or
	// "redis" for several replicas.
	LockBackend string

	// LockTimeout bounds how long WithLock waits to acquire a key.
	LockTimeout time.Duration

	// LockRetryInterval is the polling period of the table and redis
	// backends while a key is held elsewhere.
	LockRetryInterval time.Duration

	// LockTTL is how long a redis or table lock survives its holder
	// crashing. Live holders keep extending it.
	LockTTL time.Duration

	// RedisAddr, RedisPassword and RedisDB address the redis server used
	// by the redis lock backend and cache invalidation broadcasts.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultHAConfig returns an HAConfig with sensible defaults.
func DefaultHAConfig() *HAConfig {
	ns := os.Getenv("POD_NAMESPACE")
	if ns == "" {
		ns = "spectable-system"
	}
	return &HAConfig{
		LeaderElectionEnabled: false,
		LeaseName:             "spectable-server-leader",
		LeaseNamespace:        ns,
		LeaseDuration:         15 * time.Second,
		RenewDeadline:         10 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		Identity:              defaultIdentity(),
		LockBackend:           LockBackendDatabase,
		LockTimeout:           60 * time.Second,
		LockRetryInterval:     50 * time.Millisecond,
		LockTTL:               2 * time.Minute,
	}
}

// HAConfigFromEnv reads HA configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - SPECTABLE_LEADER_ELECTION_ENABLED: "true" or "false" (default: "false")
//   - SPECTABLE_LEADER_LEASE_NAME: Lease resource name (default: "spectable-server-leader")
//   - SPECTABLE_LEADER_LEASE_NAMESPACE: Lease namespace (default from POD_NAMESPACE or "spectable-system")
//   - SPECTABLE_LEADER_LEASE_DURATION: seconds (default: 15)
//   - SPECTABLE_LEADER_RENEW_DEADLINE: seconds (default: 10)
//   - SPECTABLE_LEADER_RETRY_PERIOD: seconds (default: 2)
//   - SPECTABLE_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - SPECTABLE_LOCK_BACKEND: "local", "database" or "redis" (default: "database")
//   - SPECTABLE_LOCK_TIMEOUT: seconds (default: 60)
//   - SPECTABLE_LOCK_RETRY_INTERVAL_MS: milliseconds (default: 50)
//   - SPECTABLE_LOCK_TTL: seconds (default: 120)
//   - SPECTABLE_REDIS_ADDR, SPECTABLE_REDIS_PASSWORD, SPECTABLE_REDIS_DB
//   - POD_NAME: pod identity for leader election
func HAConfigFromEnv() *HAConfig {
	cfg := DefaultHAConfig()

	if v := os.Getenv("SPECTABLE_LEADER_ELECTION_ENABLED"); v != "" {
		cfg.LeaderElectionEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SPECTABLE_LEADER_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("SPECTABLE_LEADER_LEASE_NAMESPACE"); v != "" {
		cfg.LeaseNamespace = v
	}
	if v := os.Getenv("SPECTABLE_LEADER_LEASE_DURATION"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LeaseDuration = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SPECTABLE_LEADER_RENEW_DEADLINE"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RenewDeadline = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SPECTABLE_LEADER_RETRY_PERIOD"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RetryPeriod = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SPECTABLE_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SPECTABLE_LOCK_BACKEND"); v != "" {
		cfg.LockBackend = strings.ToLower(v)
	}
	if v := os.Getenv("SPECTABLE_LOCK_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LockTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SPECTABLE_LOCK_RETRY_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.LockRetryInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SPECTABLE_LOCK_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LockTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SPECTABLE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("SPECTABLE_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SPECTABLE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("POD_NAME"); v != "" {
		cfg.Identity = v
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
