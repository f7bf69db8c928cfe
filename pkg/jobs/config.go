package jobs

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// JobConfig tunes the rebuild queue and the workers draining it.
type JobConfig struct {
	Enabled bool

	// Workers is the number of goroutines claiming rebuild jobs. Rebuilds
	// of one shop are serialized by the coordinator regardless.
	Workers int

	// MaxRetries is the number of attempts a job gets before it fails.
	MaxRetries int

	PollInterval time.Duration

	// ShopTimeout bounds one single-shop rebuild job; AllShopsTimeout
	// bounds an "_all" job. Zero disables the deadline.
	ShopTimeout     time.Duration
	AllShopsTimeout time.Duration

	// StuckAfter requeues a job that has been running this long. It must
	// exceed both timeouts or live rebuilds get requeued underneath a worker.
	StuckAfter time.Duration

	// Retention is how long finished jobs stay listable. Zero keeps them.
	Retention       time.Duration
	CleanupInterval time.Duration
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Enabled:         true,
		Workers:         2,
		MaxRetries:      3,
		PollInterval:    2 * time.Second,
		ShopTimeout:     2 * time.Minute,
		AllShopsTimeout: 30 * time.Minute,
		StuckAfter:      45 * time.Minute,
		Retention:       7 * 24 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// Validate rejects settings under which a running job could be recovered
// as stuck while its rebuild is still inside its deadline.
func (c *JobConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("job workers must be at least 1, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("job poll interval must be positive, got %s", c.PollInterval)
	}
	if c.StuckAfter > 0 {
		for name, timeout := range map[string]time.Duration{"shop": c.ShopTimeout, "all-shops": c.AllShopsTimeout} {
			if timeout == 0 || timeout >= c.StuckAfter {
				return fmt.Errorf("stuck-job threshold %s must exceed the %s rebuild timeout (%s)", c.StuckAfter, name, timeout)
			}
		}
	}
	return nil
}

// timeoutFor returns the deadline for a job on shopID.
func (c *JobConfig) timeoutFor(shopID string) time.Duration {
	if shopID == AllShops {
		return c.AllShopsTimeout
	}
	return c.ShopTimeout
}

// JobConfigFromEnv reads the job configuration. Durations use Go syntax
// ("90s", "10m").
//
// Environment variables:
//   - SPECTABLE_JOB_ENABLED
//   - SPECTABLE_JOB_WORKERS
//   - SPECTABLE_JOB_MAX_RETRIES
//   - SPECTABLE_JOB_POLL_INTERVAL
//   - SPECTABLE_JOB_SHOP_TIMEOUT
//   - SPECTABLE_JOB_ALL_SHOPS_TIMEOUT
//   - SPECTABLE_JOB_STUCK_AFTER
//   - SPECTABLE_JOB_RETENTION
//   - SPECTABLE_JOB_CLEANUP_INTERVAL
func JobConfigFromEnv() (*JobConfig, error) {
	cfg := DefaultJobConfig()

	if v := os.Getenv("SPECTABLE_JOB_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SPECTABLE_JOB_ENABLED %q: %w", v, err)
		}
		cfg.Enabled = b
	}

	ints := []struct {
		env string
		dst *int
		min int
	}{
		{"SPECTABLE_JOB_WORKERS", &cfg.Workers, 1},
		{"SPECTABLE_JOB_MAX_RETRIES", &cfg.MaxRetries, 0},
	}
	for _, f := range ints {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < f.min {
			return nil, fmt.Errorf("invalid %s %q: must be an integer >= %d", f.env, v, f.min)
		}
		*f.dst = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"SPECTABLE_JOB_POLL_INTERVAL", &cfg.PollInterval},
		{"SPECTABLE_JOB_SHOP_TIMEOUT", &cfg.ShopTimeout},
		{"SPECTABLE_JOB_ALL_SHOPS_TIMEOUT", &cfg.AllShopsTimeout},
		{"SPECTABLE_JOB_STUCK_AFTER", &cfg.StuckAfter},
		{"SPECTABLE_JOB_RETENTION", &cfg.Retention},
		{"SPECTABLE_JOB_CLEANUP_INTERVAL", &cfg.CleanupInterval},
	}
	for _, f := range durations {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid %s %q: must be a non-negative duration", f.env, v)
		}
		*f.dst = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
