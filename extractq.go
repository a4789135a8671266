// Package extractq runs document extraction jobs with at most one active job
// per user, in priority order, and streams stage progress to listeners.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	store, _ := extractq.OpenStore(extractq.DriverSQLite, "extractq.db")
//	store.Migrate(ctx)
//
//	q := extractq.New(store, extractq.TabularStages(store), extractq.Concurrency(4))
//	go q.Start(ctx)
//
//	id, _ := q.Submit(ctx, extractq.JobSpec{UserID: "alice", Filename: "a.csv", Input: data})
//	sub := q.Subscribe(id)
//	defer q.Unsubscribe(sub)
//	for e := range sub.C() {
//	    if e.IsTerminal() {
//	        break
//	    }
//	}
package extractq

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/hub"
	"github.com/jdziat/extractq/pkg/jobctx"
	"github.com/jdziat/extractq/pkg/pipeline"
	"github.com/jdziat/extractq/pkg/queue"
	"github.com/jdziat/extractq/pkg/security"
	"github.com/jdziat/extractq/pkg/stages"
	"github.com/jdziat/extractq/pkg/storage"
)

// Type aliases
type (
	// Job is a persisted extraction request.
	Job = core.Job

	// JobSpec is a submission before validation.
	JobSpec = core.JobSpec

	// JobStatus is the lifecycle state of a job.
	JobStatus = core.JobStatus

	// Priority orders jobs across users.
	Priority = core.Priority

	// Complexity is a processing hint carried with a job.
	Complexity = core.Complexity

	// OutputFormat selects the artifact serialization.
	OutputFormat = core.OutputFormat

	// JobUpdate edits job metadata through Queue.Update.
	JobUpdate = core.JobUpdate

	// JobFilter selects jobs for List.
	JobFilter = core.JobFilter

	// TimingMetrics maps step timing keys to seconds.
	TimingMetrics = core.TimingMetrics

	// Artifact is a stored job output.
	Artifact = core.Artifact

	// Event is a progress message delivered to subscribers.
	Event = core.Event

	// Stage is one pipeline step.
	Stage = core.Stage

	// StageResult is what a stage returns on success.
	StageResult = core.StageResult

	// StageContext carries the job and earlier stage outputs.
	StageContext = core.StageContext

	// NoRetryError marks a stage failure as fatal.
	NoRetryError = core.NoRetryError

	// TransientStageError marks a stage failure as retryable.
	TransientStageError = core.TransientStageError

	// FatalStageError reports the stage that ended a job.
	FatalStageError = core.FatalStageError

	// Queue accepts submissions, runs them and reports progress.
	Queue = queue.Queue

	// Option configures a Queue.
	Option = queue.Option

	// Stats is a point-in-time view of a Queue.
	Stats = queue.Stats

	// Subscription is a live listener for one job.
	Subscription = hub.Subscription

	// RetryConfig is the backoff policy for transient stage failures.
	RetryConfig = pipeline.RetryConfig

	// GormStore implements the job and artifact stores using GORM.
	GormStore = storage.GormStore

	// TabularOption configures TabularStages.
	TabularOption = stages.TabularOption
)

// Status constants
const (
	StatusPending    = core.StatusPending
	StatusProcessing = core.StatusProcessing
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
)

// Priority constants
const (
	PriorityHigh   = core.PriorityHigh
	PriorityMedium = core.PriorityMedium
	PriorityLow    = core.PriorityLow
)

// Event types
const (
	EventStatusUpdate = core.EventStatusUpdate
	EventStepUpdate   = core.EventStepUpdate
	EventNotification = core.EventNotification
	EventKeepalive    = core.EventKeepalive
)

// Output formats
const (
	FormatJSON  = core.FormatJSON
	FormatCSV   = core.FormatCSV
	FormatExcel = core.FormatExcel
)

// Database drivers
const (
	DriverSQLite   = storage.DriverSQLite
	DriverPostgres = storage.DriverPostgres
)

// Security limits
const (
	MaxUploadSize         = security.MaxUploadSize
	MaxColumns            = security.MaxColumns
	MaxRetries            = security.MaxRetries
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrValidation        = core.ErrValidation
	ErrNotCancelable     = core.ErrNotCancelable
	ErrJobNotFound       = core.ErrJobNotFound
	ErrIllegalTransition = core.ErrIllegalTransition
	ErrArtifactNotFound  = core.ErrArtifactNotFound
	ErrJobBusy           = core.ErrJobBusy
	ErrAlreadyStarted    = queue.ErrAlreadyStarted
)

// New creates a Queue that runs stages, in order, for every job.
func New(store queue.Store, stageList []Stage, opts ...Option) *Queue {
	return queue.New(store, stageList, opts...)
}

// OpenStore connects to a sqlite or postgres database.
func OpenStore(driver, dsn string) (*GormStore, error) {
	return storage.Open(driver, dsn)
}

// TabularStages returns the reference stages for CSV documents.
func TabularStages(artifacts core.ArtifactStore, opts ...TabularOption) []Stage {
	return stages.Tabular(artifacts, opts...)
}

// StageFunc adapts a function into a Stage.
func StageFunc(name string, fn stages.RunFunc) stages.Func {
	return stages.NewFunc(name, fn)
}

// NoRetry wraps an error to make a stage failure fatal.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// Transient wraps an error to make a stage failure retryable.
func Transient(err error) error {
	return core.Transient(err)
}

// RetryAfter wraps an error to retry a stage after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// Queue option functions

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return queue.WithLogger(l)
}

// Concurrency sets the number of worker slots.
func Concurrency(n int) Option {
	return queue.Concurrency(n)
}

// StageTimeout bounds a single stage attempt.
func StageTimeout(d time.Duration) Option {
	return queue.StageTimeout(d)
}

// StageRetry sets the retry policy for transient stage failures.
func StageRetry(cfg RetryConfig) Option {
	return queue.StageRetry(cfg)
}

// DefaultStageRetry returns the default policy for transient stage failures.
func DefaultStageRetry() RetryConfig {
	return pipeline.DefaultStageRetry()
}

// SubscriberBuffer sets the per-subscriber event buffer.
func SubscriberBuffer(n int) Option {
	return queue.SubscriberBuffer(n)
}

// KeepaliveInterval sets how often subscribers receive keepalive events.
func KeepaliveInterval(d time.Duration) Option {
	return queue.KeepaliveInterval(d)
}

// JobFromContext returns the job a stage runs for, or nil outside a stage.
// Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the current job ID, or empty string outside a stage.
func JobIDFromContext(ctx context.Context) string {
	return jobctx.JobIDFromContext(ctx)
}
