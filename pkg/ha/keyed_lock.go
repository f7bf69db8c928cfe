package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	// ErrLockNotAcquired is returned when a key stays held past the lock timeout.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when extending or releasing a lock this
	// holder no longer owns.
	ErrLockNotHeld = errors.New("lock not held")
)

// KeyedLocker runs fn while holding an exclusive lock on key. Holders of
// different keys never wait on each other.
type KeyedLocker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// NewKeyedLocker creates the locker selected by cfg.LockBackend. db is
// required by the database backend and rdb by the redis backend.
func NewKeyedLocker(cfg *HAConfig, db *gorm.DB, rdb redis.UniversalClient, logger *slog.Logger) (KeyedLocker, error) {
	if cfg == nil {
		cfg = DefaultHAConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.LockBackend {
	case LockBackendLocal, "":
		return NewLocalLocker(), nil
	case LockBackendDatabase:
		if db == nil {
			return nil, fmt.Errorf("lock backend %q requires a database", cfg.LockBackend)
		}
		return NewDatabaseLocker(db, cfg, logger)
	case LockBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("lock backend %q requires a redis client", cfg.LockBackend)
		}
		return NewRedisLocker(rdb, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

// LocalLocker serializes keys within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process keyed locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// WithLock waits for key until ctx is done.
func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	s := l.ref(key)
	defer l.unref(key, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.ch }()

	return fn()
}

func (l *LocalLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// NewDatabaseLocker creates a locker backed by the application database.
// PostgreSQL uses session advisory locks; other databases use a lock table,
// which is created here so that no WithLock call races its creation.
func NewDatabaseLocker(db *gorm.DB, cfg *HAConfig, logger *slog.Logger) (KeyedLocker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if db.Dialector.Name() == "postgres" {
		return &advisoryLocker{db: db, timeout: cfg.LockTimeout}, nil
	}
	if err := db.AutoMigrate(&lockRecord{}); err != nil {
		return nil, fmt.Errorf("create lock table: %w", err)
	}
	return &tableLocker{
		db:      db,
		timeout: cfg.LockTimeout,
		retry:   cfg.LockRetryInterval,
		ttl:     cfg.LockTTL,
		logger:  logger,
	}, nil
}

// advisoryLockID maps a key onto the advisory lock keyspace. Colliding
// keys only serialize more than necessary.
func advisoryLockID(key string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(key)))
}

// advisoryLocker uses PostgreSQL session advisory locks. Lock and unlock run
// on one pinned connection, as the lock belongs to the session.
type advisoryLocker struct {
	db      *gorm.DB
	timeout time.Duration
}

func (l *advisoryLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	id := advisoryLockID(key)

	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		acquireCtx := ctx
		if l.timeout > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}

		// Blocks until the key is free or acquireCtx ends.
		if err := conn.WithContext(acquireCtx).Exec("SELECT pg_advisory_lock(?)", id).Error; err != nil {
			if acquireCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
			}
			return fmt.Errorf("acquire advisory lock for %s: %w", key, err)
		}

		// Always release the lock, even if the caller's ctx is gone.
		defer func() {
			_ = conn.WithContext(context.WithoutCancel(ctx)).Exec("SELECT pg_advisory_unlock(?)", id).Error
		}()

		return fn()
	})
}

// lockRecord is one held key of the table backend.
type lockRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(255)"`
	Owner     string    `gorm:"column:owner;type:varchar(36);not null"`
	LockedAt  time.Time `gorm:"column:locked_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

func (lockRecord) TableName() string { return "keyed_locks" }

// tableLocker uses INSERT-or-fail on a primary key for SQLite and MySQL.
// Holders refresh expires_at while fn runs; a row past its expiry belongs
// to a crashed holder and is reclaimed.
type tableLocker struct {
	db      *gorm.DB
	timeout time.Duration
	retry   time.Duration
	ttl     time.Duration
	logger  *slog.Logger
}

func (l *tableLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	owner := uuid.NewString()
	if err := l.acquire(ctx, key, owner); err != nil {
		return err
	}

	stop := keepAlive(l.ttl/3, func(ctx context.Context) error {
		return l.extend(ctx, key, owner)
	}, l.logger.With("key", key))

	defer func() {
		stop()
		err := l.db.WithContext(context.WithoutCancel(ctx)).
			Where("id = ? AND owner = ?", key, owner).
			Delete(&lockRecord{}).Error
		if err != nil {
			l.logger.Warn("failed to release lock row, it will expire", "key", key, "ttl", l.ttl, "error", err)
		}
	}()

	return fn()
}

func (l *tableLocker) acquire(ctx context.Context, key, owner string) error {
	deadline := time.Now().Add(l.timeout)
	for {
		now := time.Now()
		if err := l.db.WithContext(ctx).Where("id = ? AND expires_at < ?", key, now).Delete(&lockRecord{}).Error; err != nil {
			l.logger.Warn("failed to reclaim expired lock row", "key", key, "error", err)
		}

		err := l.db.WithContext(ctx).Create(&lockRecord{
			ID:        key,
			Owner:     owner,
			LockedAt:  now,
			ExpiresAt: now.Add(l.ttl),
		}).Error
		if err == nil {
			return nil
		}

		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s after %s: %v", ErrLockNotAcquired, key, l.timeout, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *tableLocker) extend(ctx context.Context, key, owner string) error {
	res := l.db.WithContext(ctx).Model(&lockRecord{}).
		Where("id = ? AND owner = ?", key, owner).
		Update("expires_at", time.Now().Add(l.ttl))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// RedisKeyPrefix namespaces lock keys in redis.
const RedisKeyPrefix = "spectable:lock:"

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLocker uses SET NX with a per-holder token. The token guards release
// and extension so a holder never frees a key that expired and moved on.
type RedisLocker struct {
	client  redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
	logger  *slog.Logger
}

// NewRedisLocker creates a redis-backed keyed locker.
func NewRedisLocker(client redis.UniversalClient, cfg *HAConfig, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:  client,
		ttl:     cfg.LockTTL,
		timeout: cfg.LockTimeout,
		retry:   cfg.LockRetryInterval,
		logger:  logger,
	}
}

// WithLock acquires key with exponential backoff, keeps it alive while fn
// runs and releases it afterwards.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	lockKey := RedisKeyPrefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, lockKey, token); err != nil {
		return err
	}

	stop := keepAlive(l.ttl/3, func(ctx context.Context) error {
		return l.extend(ctx, lockKey, token)
	}, l.logger.With("key", lockKey))

	defer func() {
		stop()
		if err := l.release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			l.logger.Warn("failed to release redis lock", "key", lockKey, "error", err)
		}
	}()

	return fn()
}

func (l *RedisLocker) acquire(ctx context.Context, lockKey, token string) error {
	deadline := time.Now().Add(l.timeout)
	backoff := l.retry

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire redis lock %s: %w", lockKey, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrLockNotAcquired, lockKey, l.timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
}

func (l *RedisLocker) extend(ctx context.Context, lockKey, token string) error {
	n, err := extendScript.Run(ctx, l.client, []string{lockKey}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *RedisLocker) release(ctx context.Context, lockKey, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// keepAlive calls extend every interval until the returned stop func is
// called. stop waits for the loop to exit.
func keepAlive(interval time.Duration, extend func(context.Context) error, logger *slog.Logger) func() {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := extend(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("failed to extend lock", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
