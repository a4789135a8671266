// Package core provides the domain models and interfaces for extractq.
package core

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next follows
// pending -> processing -> {completed|failed}.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch next {
	case StatusProcessing:
		return s == StatusPending
	case StatusCompleted, StatusFailed:
		return s == StatusProcessing
	}
	return false
}

// Priority is the scheduling tier of a job.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities: a higher rank is scheduled first.
// Unknown priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Complexity is a routing hint for stage collaborators. The scheduler never
// inspects it.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityRegular Complexity = "regular"
	ComplexityComplex Complexity = "complex"
)

// OutputFormat is the serialization the storage stage produces.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatExcel OutputFormat = "excel"
)

// InputType describes the uploaded document.
type InputType string

const (
	InputPDF    InputType = "pdf"
	InputImages InputType = "images"
	InputTable  InputType = "table"
)

// Job represents one extraction submitted by a user.
type Job struct {
	ID             string       `gorm:"primaryKey;size:36" json:"id"`
	UserID         string       `gorm:"index;size:255;not null" json:"user_id"`
	Priority       Priority     `gorm:"index;size:10;default:'medium'" json:"priority"`
	Status         JobStatus    `gorm:"index;size:20;default:'pending'" json:"status"`
	Complexity     Complexity   `gorm:"size:20;default:'regular'" json:"complexity"`
	InputFilename  string       `gorm:"size:255" json:"input_filename,omitempty"`
	InputType      InputType    `gorm:"size:20" json:"input_type,omitempty"`
	Input          []byte       `gorm:"type:bytes" json:"-"`
	Columns        []byte       `gorm:"type:bytes" json:"-"` // JSON array of requested column names
	MultipleTables bool         `gorm:"default:false" json:"multiple_tables"`
	OutputFormat   OutputFormat `gorm:"size:20;default:'json'" json:"output_format"`
	LastError      string       `gorm:"type:text" json:"error,omitempty"`
	ArtifactRef    string       `gorm:"size:36" json:"artifact_ref,omitempty"`
	Timings        []byte       `gorm:"type:bytes" json:"-"` // JSON TimingMetrics
	CreatedAt      time.Time    `gorm:"index;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time   `gorm:"index" json:"-"`
}

// RequestedColumns decodes the requested column list. A missing or
// malformed list means "all columns".
func (j *Job) RequestedColumns() []string {
	if len(j.Columns) == 0 {
		return nil
	}
	var cols []string
	if err := json.Unmarshal(j.Columns, &cols); err != nil {
		return nil
	}
	return cols
}

// TimingMetrics decodes the stored per-stage timings.
func (j *Job) TimingMetrics() TimingMetrics {
	if len(j.Timings) == 0 {
		return nil
	}
	var tm TimingMetrics
	if err := json.Unmarshal(j.Timings, &tm); err != nil {
		return nil
	}
	return tm
}

// TimingMetrics maps a stage key (e.g. "step_1_file_processing") or
// "total_time" to elapsed seconds.
type TimingMetrics map[string]float64

// Artifact is the stored output of a completed job.
type Artifact struct {
	ID          string    `gorm:"primaryKey;size:36"`
	JobID       string    `gorm:"index;size:36;not null"`
	Filename    string    `gorm:"size:255"`
	ContentType string    `gorm:"size:255"`
	Data        []byte    `gorm:"type:bytes"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// JobUpdate carries editable job metadata. Nil fields are left unchanged.
type JobUpdate struct {
	InputFilename *string
	OutputFormat  *OutputFormat
}

// Empty reports whether u changes nothing.
func (u JobUpdate) Empty() bool {
	return u.InputFilename == nil && u.OutputFormat == nil
}

// JobSpec is a submission request before it becomes a Job.
type JobSpec struct {
	UserID         string
	Priority       Priority
	Complexity     Complexity
	Filename       string
	InputType      InputType
	Input          []byte
	Columns        []string
	MultipleTables bool
	OutputFormat   OutputFormat
}
