package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestPoolPreset(t *testing.T) {
	tests := []struct {
		name     string
		wantOpen int
		wantIdle int
	}{
		{"", 25, 10},
		{"default", 25, 10},
		{"high_concurrency", 100, 25},
		{"low_latency", 50, 40},
		{"constrained", 10, 5},
		{"auto", 18, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := PoolPreset(tt.name, 4)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOpen, cfg.MaxOpenConns)
			assert.Equal(t, tt.wantIdle, cfg.MaxIdleConns)
			assert.Positive(t, cfg.ConnMaxLifetime)
		})
	}

	_, err := PoolPreset("turbo", 4)
	assert.Error(t, err)
}

func TestSlotPoolConfig(t *testing.T) {
	small := SlotPoolConfig(1)
	assert.Equal(t, 12, small.MaxOpenConns)
	assert.Equal(t, 6, small.MaxIdleConns)

	assert.Equal(t, small, SlotPoolConfig(0), "at least one slot")

	large := SlotPoolConfig(100)
	assert.Equal(t, 210, large.MaxOpenConns)
	assert.LessOrEqual(t, large.MaxIdleConns, large.MaxOpenConns)
}

func TestPoolOptions(t *testing.T) {
	cfg := PoolConfig{}

	MaxOpenConns(50).applyPool(&cfg)
	MaxIdleConns(20).applyPool(&cfg)
	ConnMaxLifetime(10 * time.Minute).applyPool(&cfg)
	ConnMaxIdleTime(2 * time.Minute).applyPool(&cfg)

	assert.Equal(t, PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    20,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}, cfg)

	WithPoolConfig(ResourceConstrainedPoolConfig()).applyPool(&cfg)
	assert.Equal(t, ResourceConstrainedPoolConfig(), cfg)
}

func TestConfigurePool(t *testing.T) {
	db := openSQLite(t)

	require.NoError(t, ConfigurePool(db, MaxOpenConns(30), MaxIdleConns(15)))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 30, sqlDB.Stats().MaxOpenConnections)
}

func TestNewGormStoreWithPool_DefaultPool(t *testing.T) {
	db := openSQLite(t)

	store, err := NewGormStoreWithPool(db)
	require.NoError(t, err)
	require.NotNil(t, store)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 25, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_SQLiteSingleConnection(t *testing.T) {
	store, err := Open(DriverSQLite, ":memory:", WithPoolConfig(HighConcurrencyPoolConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.True(t, store.IsSQLite())
	sqlDB, err := store.DB().DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.ErrorContains(t, err, "unknown driver")
}
