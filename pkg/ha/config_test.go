package ha

import (
	"os"
	"testing"
	"time"
)

var haEnvKeys = []string{
	"SPECTABLE_LEADER_ELECTION_ENABLED",
	"SPECTABLE_LEADER_LEASE_NAME",
	"SPECTABLE_LEADER_LEASE_NAMESPACE",
	"SPECTABLE_LEADER_LEASE_DURATION",
	"SPECTABLE_LEADER_RENEW_DEADLINE",
	"SPECTABLE_LEADER_RETRY_PERIOD",
	"SPECTABLE_MIGRATION_LOCK_ENABLED",
	"SPECTABLE_LOCK_BACKEND",
	"SPECTABLE_LOCK_TIMEOUT",
	"SPECTABLE_LOCK_RETRY_INTERVAL_MS",
	"SPECTABLE_LOCK_TTL",
	"SPECTABLE_REDIS_ADDR",
	"SPECTABLE_REDIS_PASSWORD",
	"SPECTABLE_REDIS_DB",
	"POD_NAME",
}

func TestDefaultHAConfig(t *testing.T) {
	os.Unsetenv("POD_NAMESPACE")

	cfg := DefaultHAConfig()

	if cfg.LeaderElectionEnabled {
		t.Error("LeaderElectionEnabled should be false by default")
	}
	if cfg.LeaseName != "spectable-server-leader" {
		t.Errorf("LeaseName = %q, want %q", cfg.LeaseName, "spectable-server-leader")
	}
	if cfg.LeaseNamespace != "spectable-system" {
		t.Errorf("LeaseNamespace = %q, want %q", cfg.LeaseNamespace, "spectable-system")
	}
	if cfg.LeaseDuration != 15*time.Second {
		t.Errorf("LeaseDuration = %v, want %v", cfg.LeaseDuration, 15*time.Second)
	}
	if !cfg.MigrationLockEnabled {
		t.Error("MigrationLockEnabled should be true by default")
	}
	if cfg.LockBackend != LockBackendDatabase {
		t.Errorf("LockBackend = %q, want %q", cfg.LockBackend, LockBackendDatabase)
	}
	if cfg.LockRetryInterval != 50*time.Millisecond {
		t.Errorf("LockRetryInterval = %v, want %v", cfg.LockRetryInterval, 50*time.Millisecond)
	}
}

func TestDefaultHAConfig_NamespaceFromEnv(t *testing.T) {
	t.Setenv("POD_NAMESPACE", "my-namespace")

	cfg := DefaultHAConfig()
	if cfg.LeaseNamespace != "my-namespace" {
		t.Errorf("LeaseNamespace = %q, want %q", cfg.LeaseNamespace, "my-namespace")
	}
}

func TestHAConfigFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		envs  map[string]string
		check func(t *testing.T, cfg *HAConfig)
	}{
		{
			name: "defaults when no env vars set",
			envs: map[string]string{},
			check: func(t *testing.T, cfg *HAConfig) {
				if cfg.LeaderElectionEnabled {
					t.Error("expected LeaderElectionEnabled=false")
				}
				if cfg.RedisAddr != "" {
					t.Errorf("RedisAddr = %q, want empty", cfg.RedisAddr)
				}
			},
		},
		{
			name: "leader election enabled via 1",
			envs: map[string]string{"SPECTABLE_LEADER_ELECTION_ENABLED": "1"},
			check: func(t *testing.T, cfg *HAConfig) {
				if !cfg.LeaderElectionEnabled {
					t.Error("expected LeaderElectionEnabled=true")
				}
			},
		},
		{
			name: "custom durations",
			envs: map[string]string{
				"SPECTABLE_LEADER_LEASE_DURATION": "30",
				"SPECTABLE_LEADER_RENEW_DEADLINE": "20",
				"SPECTABLE_LEADER_RETRY_PERIOD":   "5",
			},
			check: func(t *testing.T, cfg *HAConfig) {
				if cfg.LeaseDuration != 30*time.Second {
					t.Errorf("LeaseDuration = %v, want %v", cfg.LeaseDuration, 30*time.Second)
				}
				if cfg.RenewDeadline != 20*time.Second {
					t.Errorf("RenewDeadline = %v, want %v", cfg.RenewDeadline, 20*time.Second)
				}
				if cfg.RetryPeriod != 5*time.Second {
					t.Errorf("RetryPeriod = %v, want %v", cfg.RetryPeriod, 5*time.Second)
				}
			},
		},
		{
			name: "redis lock backend",
			envs: map[string]string{
				"SPECTABLE_LOCK_BACKEND":           "REDIS",
				"SPECTABLE_LOCK_TIMEOUT":           "5",
				"SPECTABLE_LOCK_RETRY_INTERVAL_MS": "10",
				"SPECTABLE_LOCK_TTL":               "30",
				"SPECTABLE_REDIS_ADDR":             "redis:6379",
				"SPECTABLE_REDIS_DB":               "2",
			},
			check: func(t *testing.T, cfg *HAConfig) {
				if cfg.LockBackend != LockBackendRedis {
					t.Errorf("LockBackend = %q, want %q", cfg.LockBackend, LockBackendRedis)
				}
				if cfg.LockTimeout != 5*time.Second {
					t.Errorf("LockTimeout = %v, want %v", cfg.LockTimeout, 5*time.Second)
				}
				if cfg.LockRetryInterval != 10*time.Millisecond {
					t.Errorf("LockRetryInterval = %v, want %v", cfg.LockRetryInterval, 10*time.Millisecond)
				}
				if cfg.LockTTL != 30*time.Second {
					t.Errorf("LockTTL = %v, want %v", cfg.LockTTL, 30*time.Second)
				}
				if cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 2 {
					t.Errorf("redis = %q/%d, want redis:6379/2", cfg.RedisAddr, cfg.RedisDB)
				}
			},
		},
		{
			name: "invalid numbers keep defaults",
			envs: map[string]string{
				"SPECTABLE_LOCK_TIMEOUT": "soon",
				"SPECTABLE_REDIS_DB":     "-1",
			},
			check: func(t *testing.T, cfg *HAConfig) {
				if cfg.LockTimeout != 60*time.Second {
					t.Errorf("LockTimeout = %v, want %v", cfg.LockTimeout, 60*time.Second)
				}
				if cfg.RedisDB != 0 {
					t.Errorf("RedisDB = %d, want 0", cfg.RedisDB)
				}
			},
		},
		{
			name: "migration lock disabled",
			envs: map[string]string{"SPECTABLE_MIGRATION_LOCK_ENABLED": "false"},
			check: func(t *testing.T, cfg *HAConfig) {
				if cfg.MigrationLockEnabled {
					t.Error("expected MigrationLockEnabled=false")
				}
			},
		},
		{
			name: "pod name as identity",
			envs: map[string]string{"POD_NAME": "pod-xyz"},
			check: func(t *testing.T, cfg *HAConfig) {
				if cfg.Identity != "pod-xyz" {
					t.Errorf("Identity = %q, want %q", cfg.Identity, "pod-xyz")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range haEnvKeys {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}

			tt.check(t, HAConfigFromEnv())
		})
	}
}
