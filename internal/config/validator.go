package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/jdziat/extractq/pkg/security"
	"github.com/jdziat/extractq/pkg/storage"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "worker.concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// ValidDrivers returns the list of supported database drivers
func ValidDrivers() []string {
	return []string{storage.DriverSQLite, storage.DriverPostgres}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validatePipeline()...)
	errors = append(errors, c.validateHub()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must not be empty",
		})
	}
	if c.Server.MaxUploadBytes <= 0 || c.Server.MaxUploadBytes > security.MaxUploadSize {
		errors = append(errors, ValidationError{
			Field:   "server.max_upload_bytes",
			Value:   c.Server.MaxUploadBytes,
			Message: fmt.Sprintf("must be between 1 and %d", security.MaxUploadSize),
		})
	}

	return errors
}

func (c *Config) validateDatabase() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidDrivers(), c.Database.Driver) {
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Value:   c.Database.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDrivers(), ", ")),
		})
	}
	if c.Database.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "database.dsn",
			Value:   c.Database.DSN,
			Message: "must not be empty",
		})
	}
	if _, err := storage.PoolPreset(c.Database.Pool, c.Worker.Concurrency); err != nil {
		errors = append(errors, ValidationError{
			Field:   "database.pool",
			Value:   c.Database.Pool,
			Message: err.Error(),
		})
	}

	return errors
}

func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > security.MaxConcurrency {
		errors = append(errors, ValidationError{
			Field:   "worker.concurrency",
			Value:   c.Worker.Concurrency,
			Message: fmt.Sprintf("must be between 1 and %d", security.MaxConcurrency),
		})
	}
	if c.Worker.HeartbeatInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.heartbeat_interval",
			Value:   c.Worker.HeartbeatInterval,
			Message: "must be positive",
		})
	}
	// A heartbeat that cannot land before the sweep deadline abandons healthy jobs.
	if c.Worker.StaleAfter <= c.Worker.HeartbeatInterval {
		errors = append(errors, ValidationError{
			Field:   "worker.stale_after",
			Value:   c.Worker.StaleAfter,
			Message: "must be greater than worker.heartbeat_interval",
		})
	}
	if _, err := cron.ParseStandard(c.Worker.SweepSchedule); err != nil {
		errors = append(errors, ValidationError{
			Field:   "worker.sweep_schedule",
			Value:   c.Worker.SweepSchedule,
			Message: "must be a cron expression or @every descriptor",
		})
	}

	return errors
}

func (c *Config) validatePipeline() []ValidationError {
	var errors []ValidationError

	if c.Pipeline.StageTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.stage_timeout",
			Value:   c.Pipeline.StageTimeout,
			Message: "must be positive",
		})
	}
	if c.Pipeline.RetryAttempts < 1 || c.Pipeline.RetryAttempts > security.MaxRetries {
		errors = append(errors, ValidationError{
			Field:   "pipeline.retry_attempts",
			Value:   c.Pipeline.RetryAttempts,
			Message: fmt.Sprintf("must be between 1 and %d", security.MaxRetries),
		})
	}
	if c.Pipeline.InitialBackoff < 0 || c.Pipeline.MaxBackoff < c.Pipeline.InitialBackoff {
		errors = append(errors, ValidationError{
			Field:   "pipeline.max_backoff",
			Value:   c.Pipeline.MaxBackoff,
			Message: "must be at least pipeline.initial_backoff",
		})
	}

	return errors
}

func (c *Config) validateHub() []ValidationError {
	var errors []ValidationError

	if c.Hub.SubscriberBuffer < 1 {
		errors = append(errors, ValidationError{
			Field:   "hub.subscriber_buffer",
			Value:   c.Hub.SubscriberBuffer,
			Message: "must be at least 1",
		})
	}
	if c.Hub.KeepaliveInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "hub.keepalive_interval",
			Value:   c.Hub.KeepaliveInterval,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errors
}
