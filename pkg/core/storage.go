package core

import (
	"context"
	"time"
)

// Starter is the interface for long-running components.
type Starter interface {
	Start(ctx context.Context) error
}

// StatusFields carries the columns written alongside a status transition.
// Zero values are left untouched.
type StatusFields struct {
	Error       string
	ArtifactRef string
	Timings     TimingMetrics
	At          time.Time
}

// JobFilter narrows List results.
type JobFilter struct {
	UserID string
	Status JobStatus
	Limit  int
	Offset int
}

// JobStore defines the persistence layer for jobs. Implementations must be
// strongly consistent for a single job id.
type JobStore interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	Create(ctx context.Context, job *Job) error
	// UpdateStatus moves a job to status. It returns ErrIllegalTransition when
	// the stored status cannot move there and ErrJobNotFound for unknown ids.
	UpdateStatus(ctx context.Context, id string, status JobStatus, fields StatusFields) error
	// Get returns nil, nil when the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]*Job, error)
	// Delete removes a pending job. It returns ErrNotCancelable when the job
	// has left pending.
	Delete(ctx context.Context, id string) error

	// Heartbeat records liveness of a processing job.
	Heartbeat(ctx context.Context, id string) error
	// ListStale returns processing jobs whose heartbeat is older than before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Job, error)
}

// JobEditor edits job metadata and removes finished jobs.
type JobEditor interface {
	// UpdateMetadata applies u. Changing the output format of a processing
	// job returns ErrJobBusy.
	UpdateMetadata(ctx context.Context, id string, u JobUpdate) error
	// DeleteFinished removes a completed or failed job with its artifacts.
	// It returns ErrJobBusy for jobs that are pending or processing.
	DeleteFinished(ctx context.Context, id string) error
}

// ArtifactStore persists job outputs.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a *Artifact) error
	// GetArtifact returns ErrArtifactNotFound for unknown ids.
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
}
