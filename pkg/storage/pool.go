package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Connections a worker slot can hold at once: the status write of the job it
// runs and the heartbeat refreshing that job.
const connsPerSlot = 2

// apiHeadroom is reserved for HTTP handlers (submit, list, get, download)
// and the reconciler sweep.
const apiHeadroom = 10

// PoolConfig is the database/sql pool behind a GormStore.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig fits the default daemon: a handful of worker slots whose
// writes are short, plus the HTTP API.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// SlotPoolConfig sizes the pool for a worker pool of the given number of
// slots, so every slot can write its status and heartbeat concurrently
// while the API still gets connections. Idle connections cover the slots,
// since job status writes arrive in bursts at stage boundaries.
func SlotPoolConfig(slots int) PoolConfig {
	if slots < 1 {
		slots = 1
	}
	return PoolConfig{
		MaxOpenConns:    slots*connsPerSlot + apiHeadroom,
		MaxIdleConns:    slots + apiHeadroom/2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// PoolOption configures connection pool settings.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// MaxOpenConns caps open connections. 0 means unlimited.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxOpenConns = n
	})
}

// MaxIdleConns caps idle connections.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxIdleConns = n
	})
}

// ConnMaxLifetime closes connections older than d. 0 means no limit.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxLifetime = d
	})
}

// ConnMaxIdleTime closes connections idle for longer than d. 0 means no limit.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxIdleTime = d
	})
}

// WithPoolConfig replaces every pool setting with cfg. Later options still
// override individual fields.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		*c = cfg
	})
}

// ConfigurePool applies DefaultPoolConfig and opts to db's connection pool.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	config := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&config)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("storage: get *sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	return nil
}

// NewGormStoreWithPool configures db's pool and wraps it in a GormStore.
func NewGormStoreWithPool(db *gorm.DB, opts ...PoolOption) (*GormStore, error) {
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormStore(db), nil
}

// PoolPreset returns the named pool profile. "auto" is sized from slots with
// SlotPoolConfig; the others are fixed: "default", "high_concurrency",
// "low_latency" and "constrained".
func PoolPreset(name string, slots int) (PoolConfig, error) {
	switch name {
	case "", "default":
		return DefaultPoolConfig(), nil
	case "auto":
		return SlotPoolConfig(slots), nil
	case "high_concurrency":
		return HighConcurrencyPoolConfig(), nil
	case "low_latency":
		return LowLatencyPoolConfig(), nil
	case "constrained":
		return ResourceConstrainedPoolConfig(), nil
	}
	return PoolConfig{}, fmt.Errorf("storage: unknown pool preset %q", name)
}

// HighConcurrencyPoolConfig is for daemons running around fifty slots or
// more, where heartbeats of long extractions overlap with stage writes.
func HighConcurrencyPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    100,
		MaxIdleConns:    25,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}
}

// LowLatencyPoolConfig keeps most connections warm so the processing write
// that starts a job, and the terminal write before its status event, rarely
// wait for a new connection.
func LowLatencyPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    40,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// ResourceConstrainedPoolConfig is for a shared postgres with a low
// max_connections. Slots beyond what it can serve wait on the pool, so keep
// worker.concurrency under about four.
func ResourceConstrainedPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 3 * time.Minute,
		ConnMaxIdleTime: 30 * time.Second,
	}
}
