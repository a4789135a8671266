package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/security"
)

var allStatuses = []core.JobStatus{
	core.StatusPending,
	core.StatusProcessing,
	core.StatusCompleted,
	core.StatusFailed,
}

// GormStore implements core.JobStore and core.ArtifactStore using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying database handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the store runs on SQLite.
func (s *GormStore) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.Artifact{})
}

// Create persists a new job.
func (s *GormStore) Create(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// UpdateStatus moves a job to status. The update is conditional on the
// stored status being a legal predecessor, so concurrent writers cannot
// move a job backwards.
func (s *GormStore) UpdateStatus(ctx context.Context, id string, status core.JobStatus, fields core.StatusFields) error {
	from := predecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: cannot move to %q", core.ErrIllegalTransition, status)
	}

	at := fields.At
	if at.IsZero() {
		at = time.Now()
	}

	updates := map[string]any{"status": status}
	switch status {
	case core.StatusProcessing:
		updates["started_at"] = at
		updates["heartbeat_at"] = at
	case core.StatusCompleted, core.StatusFailed:
		updates["completed_at"] = at
		updates["heartbeat_at"] = nil
		// The upload is only needed while the job can still run.
		updates["input"] = nil
	}
	if fields.Error != "" {
		updates["last_error"] = security.SanitizeErrorMessage(fields.Error)
	}
	if fields.ArtifactRef != "" {
		updates["artifact_ref"] = fields.ArtifactRef
	}
	if len(fields.Timings) > 0 {
		data, err := json.Marshal(fields.Timings)
		if err != nil {
			return fmt.Errorf("encode timings: %w", err)
		}
		updates["timings"] = data
	}

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return missOrConflict(ctx, s.db, id, core.ErrIllegalTransition)
	}
	return nil
}

// Get retrieves a job by ID. It returns nil, nil when the job does not exist.
func (s *GormStore) Get(ctx context.Context, id string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs matching the filter in submission order. The uploaded
// input is not loaded.
func (s *GormStore) List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{}).Omit("input")

	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var jobs []*core.Job
	err := q.Order("created_at ASC, id ASC").Find(&jobs).Error
	return jobs, err
}

// Delete removes a pending job.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, core.StatusPending).
		Delete(&core.Job{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return missOrConflict(ctx, s.db, id, core.ErrNotCancelable)
	}
	return nil
}

// UpdateMetadata applies editable fields to a job. An output format change
// is conditional on the job not processing.
func (s *GormStore) UpdateMetadata(ctx context.Context, id string, u core.JobUpdate) error {
	updates := map[string]any{}
	q := s.db.WithContext(ctx).Model(&core.Job{}).Where("id = ?", id)
	if u.InputFilename != nil {
		updates["input_filename"] = *u.InputFilename
	}
	if u.OutputFormat != nil {
		updates["output_format"] = *u.OutputFormat
		q = q.Where("status <> ?", core.StatusProcessing)
	}
	if len(updates) == 0 {
		return missOrConflict(ctx, s.db, id, nil)
	}

	result := q.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return missOrConflict(ctx, s.db, id, core.ErrJobBusy)
	}
	return nil
}

// DeleteFinished removes a completed or failed job and its artifacts in one
// transaction.
func (s *GormStore) DeleteFinished(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND status IN ?", id, []core.JobStatus{core.StatusCompleted, core.StatusFailed}).
			Delete(&core.Job{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return missOrConflict(ctx, tx, id, core.ErrJobBusy)
		}
		return tx.Where("job_id = ?", id).Delete(&core.Artifact{}).Error
	})
}

// Heartbeat records liveness of a processing job.
func (s *GormStore) Heartbeat(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", id, core.StatusProcessing).
		Update("heartbeat_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return missOrConflict(ctx, s.db, id, core.ErrIllegalTransition)
	}
	return nil
}

// ListStale returns processing jobs whose heartbeat is older than before,
// oldest first.
func (s *GormStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).
		Omit("input").
		Where("status = ?", core.StatusProcessing).
		Where("(heartbeat_at IS NULL OR heartbeat_at < ?)", before).
		Order("heartbeat_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var jobs []*core.Job
	err := q.Find(&jobs).Error
	return jobs, err
}

// missOrConflict distinguishes an unknown id from a row in the wrong state.
func missOrConflict(ctx context.Context, db *gorm.DB, id string, conflict error) error {
	var count int64
	if err := db.WithContext(ctx).Model(&core.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return core.ErrJobNotFound
	}
	return conflict
}

func predecessors(status core.JobStatus) []core.JobStatus {
	var from []core.JobStatus
	for _, s := range allStatuses {
		if s.CanTransition(status) {
			from = append(from, s)
		}
	}
	return from
}

var (
	_ core.JobStore      = (*GormStore)(nil)
	_ core.ArtifactStore = (*GormStore)(nil)
	_ core.JobEditor     = (*GormStore)(nil)
)
