package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/extractq/pkg/queue"
	"github.com/jdziat/extractq/pkg/storage"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	assert.Empty(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Pipeline.RetryAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.StageTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extractq.yaml")
	yaml := `
server:
  addr: ":9090"
database:
  driver: postgres
  dsn: postgres://localhost/extractq
  pool: high_concurrency
worker:
  concurrency: 8
  stale_after: 5m
pipeline:
  stage_timeout: 90s
logging:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "high_concurrency", cfg.Database.Pool)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Hub, cfg.Hub)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("EXTRACTQ_WORKER_CONCURRENCY", "2")
	t.Setenv("EXTRACTQ_LOGGING_LEVEL", "debug")
	t.Setenv("EXTRACTQ_HUB_KEEPALIVE_INTERVAL", "5s")

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Hub.KeepaliveInterval)
}

func TestLoad_InvalidValues(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("EXTRACTQ_DATABASE_DRIVER", "mysql")
	t.Setenv("EXTRACTQ_WORKER_CONCURRENCY", "0")

	v, err := New("")
	require.NoError(t, err)
	_, err = Load(v)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 2)
	assert.Equal(t, "database.driver", errs[0].Field)
	assert.Equal(t, "worker.concurrency", errs[1].Field)
	assert.Contains(t, err.Error(), "2 validation errors")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"upload too large", func(c *Config) { c.Server.MaxUploadBytes = 1 << 40 }, "server.max_upload_bytes"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"unknown pool", func(c *Config) { c.Database.Pool = "huge" }, "database.pool"},
		{"zero heartbeat", func(c *Config) { c.Worker.HeartbeatInterval = 0 }, "worker.heartbeat_interval"},
		{"stale before heartbeat", func(c *Config) { c.Worker.StaleAfter = time.Second }, "worker.stale_after"},
		{"bad schedule", func(c *Config) { c.Worker.SweepSchedule = "sometimes" }, "worker.sweep_schedule"},
		{"zero timeout", func(c *Config) { c.Pipeline.StageTimeout = 0 }, "pipeline.stage_timeout"},
		{"too many retries", func(c *Config) { c.Pipeline.RetryAttempts = 1000 }, "pipeline.retry_attempts"},
		{"backoff inverted", func(c *Config) { c.Pipeline.MaxBackoff = time.Millisecond }, "pipeline.max_backoff"},
		{"no buffer", func(c *Config) { c.Hub.SubscriberBuffer = 0 }, "hub.subscriber_buffer"},
		{"zero keepalive", func(c *Config) { c.Hub.KeepaliveInterval = 0 }, "hub.keepalive_interval"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestQueueOptions(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.RetryAttempts = 7

	o := queue.NewOptions()
	for _, opt := range cfg.QueueOptions(nil) {
		opt.Apply(o)
	}

	assert.NotNil(t, o.Logger)
	assert.Len(t, o.Pipeline, 2)
	assert.Len(t, o.Worker, 4)
	assert.Len(t, o.Hub, 2)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "job_id", "j1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"job_id":"j1"`)
	assert.True(t, logger.Enabled(context.Background(), parseLevel("error")))
}

func TestValidate_AutoPoolSizedFromConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Database.Pool = "auto"
	cfg.Worker.Concurrency = 8
	assert.Empty(t, cfg.Validate())

	pool, err := storage.PoolPreset(cfg.Database.Pool, cfg.Worker.Concurrency)
	require.NoError(t, err)
	assert.Equal(t, storage.SlotPoolConfig(8), pool)
}
