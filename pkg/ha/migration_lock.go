package ha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// migrationLockKey is the key all replicas contend on around AutoMigrate.
const migrationLockKey = "spectable-migration"

// MigrationLocker serializes database migrations across replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker on the database backend. The
// underlying lock is set up on first use so that a failure surfaces from
// WithLock.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return noopMigrationLock{}
	}
	cfg := DefaultHAConfig()
	cfg.LockTimeout = 30 * time.Second
	cfg.LockRetryInterval = time.Second
	cfg.LockTTL = 5 * time.Minute
	return &migrationLock{db: db, cfg: cfg}
}

// noopMigrationLock is used when no database is configured.
type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

type migrationLock struct {
	db  *gorm.DB
	cfg *HAConfig

	once   sync.Once
	locker KeyedLocker
	err    error
}

func (m *migrationLock) WithLock(ctx context.Context, fn func() error) error {
	m.once.Do(func() {
		m.locker, m.err = NewDatabaseLocker(m.db, m.cfg, nil)
	})
	if m.err != nil {
		return fmt.Errorf("migration lock: %w", m.err)
	}
	return m.locker.WithLock(ctx, migrationLockKey, fn)
}
