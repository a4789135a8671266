// Package config loads the extractqd daemon configuration with viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jdziat/extractq/pkg/hub"
	"github.com/jdziat/extractq/pkg/pipeline"
	"github.com/jdziat/extractq/pkg/queue"
	"github.com/jdziat/extractq/pkg/security"
	"github.com/jdziat/extractq/pkg/stages"
	"github.com/jdziat/extractq/pkg/worker"
)

// EnvPrefix prefixes every environment override, e.g. EXTRACTQ_SERVER_ADDR.
const EnvPrefix = "EXTRACTQ"

// Config represents the complete daemon configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Hub      HubConfig      `mapstructure:"hub"`
	Stages   StagesConfig   `mapstructure:"stages"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// ShutdownTimeout bounds how long in-flight requests may drain on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes limits the multipart body of a submission
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig selects the job store
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// Pool is a connection pool preset: default, auto, high_concurrency, low_latency, constrained
	Pool string `mapstructure:"pool"`
}

// WorkerConfig controls the worker pool and the stale-job sweep
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SweepSchedule     string        `mapstructure:"sweep_schedule"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

// PipelineConfig controls stage execution
type PipelineConfig struct {
	StageTimeout   time.Duration `mapstructure:"stage_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// HubConfig controls progress fan-out
type HubConfig struct {
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

// StagesConfig tunes the tabular extraction stages
type StagesConfig struct {
	MaxRows     int    `mapstructure:"max_rows"`
	SheetPrefix string `mapstructure:"sheet_prefix"`
}

// LoggingConfig controls the slog handler
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format is "json" or "text"
	Format string `mapstructure:"format"`
}

// Default returns the default configuration
func Default() *Config {
	stageRetry := pipeline.DefaultStageRetry()
	workerDefaults := worker.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  security.MaxUploadSize,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "extractq.db",
			Pool:   "default",
		},
		Worker: WorkerConfig{
			Concurrency:       workerDefaults.Concurrency,
			HeartbeatInterval: workerDefaults.HeartbeatInterval,
			SweepSchedule:     workerDefaults.SweepSchedule,
			StaleAfter:        workerDefaults.StaleAfter,
		},
		Pipeline: PipelineConfig{
			StageTimeout:   pipeline.DefaultStageTimeout,
			RetryAttempts:  stageRetry.MaxAttempts,
			InitialBackoff: stageRetry.InitialBackoff,
			MaxBackoff:     stageRetry.MaxBackoff,
		},
		Hub: HubConfig{
			SubscriberBuffer:  hub.DefaultBufferSize,
			KeepaliveInterval: hub.DefaultKeepaliveInterval,
		},
		Stages: StagesConfig{
			MaxRows:     stages.DefaultMaxRows,
			SheetPrefix: "Table",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every key with its default value. Keys unknown to
// viper are not picked up from the environment by Unmarshal.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	v.SetDefault("server.max_upload_bytes", defaults.Server.MaxUploadBytes)

	v.SetDefault("database.driver", defaults.Database.Driver)
	v.SetDefault("database.dsn", defaults.Database.DSN)
	v.SetDefault("database.pool", defaults.Database.Pool)

	v.SetDefault("worker.concurrency", defaults.Worker.Concurrency)
	v.SetDefault("worker.heartbeat_interval", defaults.Worker.HeartbeatInterval)
	v.SetDefault("worker.sweep_schedule", defaults.Worker.SweepSchedule)
	v.SetDefault("worker.stale_after", defaults.Worker.StaleAfter)

	v.SetDefault("pipeline.stage_timeout", defaults.Pipeline.StageTimeout)
	v.SetDefault("pipeline.retry_attempts", defaults.Pipeline.RetryAttempts)
	v.SetDefault("pipeline.initial_backoff", defaults.Pipeline.InitialBackoff)
	v.SetDefault("pipeline.max_backoff", defaults.Pipeline.MaxBackoff)

	v.SetDefault("hub.subscriber_buffer", defaults.Hub.SubscriberBuffer)
	v.SetDefault("hub.keepalive_interval", defaults.Hub.KeepaliveInterval)

	v.SetDefault("stages.max_rows", defaults.Stages.MaxRows)
	v.SetDefault("stages.sheet_prefix", defaults.Stages.SheetPrefix)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
}

// New returns a viper instance with defaults, environment overrides and,
// when file is not empty, the given YAML file. Without a file it looks for
// extractq.yaml in the working directory and ignores its absence.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("extractq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// QueueOptions converts the configuration into queue options.
func (c *Config) QueueOptions(logger *slog.Logger) []queue.Option {
	retry := pipeline.DefaultStageRetry()
	retry.MaxAttempts = c.Pipeline.RetryAttempts
	retry.InitialBackoff = c.Pipeline.InitialBackoff
	retry.MaxBackoff = c.Pipeline.MaxBackoff

	return []queue.Option{
		queue.WithLogger(logger),
		queue.Concurrency(c.Worker.Concurrency),
		queue.StageTimeout(c.Pipeline.StageTimeout),
		queue.StageRetry(retry),
		queue.SubscriberBuffer(c.Hub.SubscriberBuffer),
		queue.KeepaliveInterval(c.Hub.KeepaliveInterval),
		queue.WithWorkerOptions(
			worker.HeartbeatInterval(c.Worker.HeartbeatInterval),
			worker.SweepSchedule(c.Worker.SweepSchedule),
			worker.StaleAfter(c.Worker.StaleAfter),
		),
	}
}

// StageOptions converts the configuration into tabular stage options.
func (c *Config) StageOptions() []stages.TabularOption {
	return []stages.TabularOption{
		stages.MaxRows(c.Stages.MaxRows),
		stages.SheetPrefix(c.Stages.SheetPrefix),
	}
}

// NewLogger builds the slog logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Logging.Level)}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
