package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/extractq/pkg/core"
)

func createJob(t *testing.T, s *GormStore, job *core.Job) *core.Job {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), job))
	return job
}

func startJob(t *testing.T, s *GormStore, job *core.Job) {
	t.Helper()
	require.NoError(t, s.UpdateStatus(context.Background(), job.ID, core.StatusProcessing, core.StatusFields{}))
}

// ──────────────────────────────────────────────────────────────────────────────
// Constructor / detection
// ──────────────────────────────────────────────────────────────────────────────

func TestNewGormStore_IsSQLite(t *testing.T) {
	s := NewGormStore(openSQLite(t))
	assert.True(t, s.IsSQLite(), "should detect SQLite dialect")
}

func TestNewGormStore_NilDB(t *testing.T) {
	s := NewGormStore(nil)
	assert.False(t, s.IsSQLite(), "nil db should not claim SQLite")
}

// ──────────────────────────────────────────────────────────────────────────────
// Create / Get
// ──────────────────────────────────────────────────────────────────────────────

func TestCreate_DefaultsIDAndStatus(t *testing.T) {
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusPending, job.Status)

	got, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, core.PriorityMedium, got.Priority)
	assert.Equal(t, []byte("a,b\n1,2\n"), got.Input)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreate_PreservesExistingID(t *testing.T) {
	s := newTestStore(t)
	job := newTestJob("alice")
	job.ID = "fixed-id"
	createJob(t, s, job)

	got, err := s.Get(context.Background(), "fixed-id")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestGet_ReturnsNilForMissingJob(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// ──────────────────────────────────────────────────────────────────────────────
// UpdateStatus
// ──────────────────────────────────────────────────────────────────────────────

func TestUpdateStatus_ProcessingSetsStartAndHeartbeat(t *testing.T) {
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))
	at := time.Now().Add(-time.Second).Truncate(time.Millisecond)

	require.NoError(t, s.UpdateStatus(context.Background(), job.ID, core.StatusProcessing, core.StatusFields{At: at}))

	got, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.HeartbeatAt)
	assert.WithinDuration(t, at, *got.StartedAt, time.Millisecond)
	assert.Nil(t, got.CompletedAt)
}

func TestUpdateStatus_CompletedStoresArtifactAndTimings(t *testing.T) {
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))
	startJob(t, s, job)

	fields := core.StatusFields{
		ArtifactRef: "artifact-1",
		Timings:     core.TimingMetrics{"step_1_file_processing": 0.25, "total_time": 1.5},
	}
	require.NoError(t, s.UpdateStatus(context.Background(), job.ID, core.StatusCompleted, fields))

	got, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Equal(t, "artifact-1", got.ArtifactRef)
	assert.Equal(t, 1.5, got.TimingMetrics()["total_time"])
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.HeartbeatAt)
	assert.Empty(t, got.Input, "input is released once the job is terminal")
}

func TestUpdateStatus_FailedSanitizesError(t *testing.T) {
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))
	startJob(t, s, job)

	msg := "bad\x00 input " + strings.Repeat("x", 5000)
	require.NoError(t, s.UpdateStatus(context.Background(), job.ID, core.StatusFailed, core.StatusFields{Error: msg}))

	got, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.NotContains(t, got.LastError, "\x00")
	assert.True(t, strings.HasSuffix(got.LastError, "..."))
}

func TestUpdateStatus_RejectsIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))

	err := s.UpdateStatus(ctx, job.ID, core.StatusCompleted, core.StatusFields{})
	assert.ErrorIs(t, err, core.ErrIllegalTransition, "pending cannot complete")

	err = s.UpdateStatus(ctx, job.ID, core.StatusPending, core.StatusFields{})
	assert.ErrorIs(t, err, core.ErrIllegalTransition, "nothing moves back to pending")

	startJob(t, s, job)
	err = s.UpdateStatus(ctx, job.ID, core.StatusProcessing, core.StatusFields{})
	assert.ErrorIs(t, err, core.ErrIllegalTransition)

	require.NoError(t, s.UpdateStatus(ctx, job.ID, core.StatusFailed, core.StatusFields{Error: "x"}))
	err = s.UpdateStatus(ctx, job.ID, core.StatusCompleted, core.StatusFields{})
	assert.ErrorIs(t, err, core.ErrIllegalTransition, "terminal is final")

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
}

func TestUpdateStatus_UnknownJob(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStatus(context.Background(), "nope", core.StatusProcessing, core.StatusFields{})
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// List
// ──────────────────────────────────────────────────────────────────────────────

func TestList_FiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	var ids []string
	for i, user := range []string{"alice", "bob", "alice", "alice"} {
		job := newTestJob(user)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		createJob(t, s, job)
		ids = append(ids, job.ID)
	}
	startJob(t, s, &core.Job{ID: ids[2]})

	all, err := s.List(ctx, core.JobFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{ids[0], ids[2], ids[3]}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Empty(t, all[0].Input, "list does not load uploads")

	pending, err := s.List(ctx, core.JobFilter{UserID: "alice", Status: core.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	page, err := s.List(ctx, core.JobFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Delete
// ──────────────────────────────────────────────────────────────────────────────

func TestDelete_PendingJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))

	require.NoError(t, s.Delete(ctx, job.ID))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete_ProcessingJobNotCancelable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))
	startJob(t, s, job)

	assert.ErrorIs(t, s.Delete(ctx, job.ID), core.ErrNotCancelable)
	assert.ErrorIs(t, s.Delete(ctx, "nope"), core.ErrJobNotFound)
}

func TestDeleteFinished_RemovesJobAndArtifacts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))
	startJob(t, s, job)

	a := &core.Artifact{JobID: job.ID, Filename: "out.json", Data: []byte("[]")}
	require.NoError(t, s.SaveArtifact(ctx, a))
	other := &core.Artifact{JobID: "other-job", Filename: "keep.json", Data: []byte("[]")}
	require.NoError(t, s.SaveArtifact(ctx, other))
	require.NoError(t, s.UpdateStatus(ctx, job.ID, core.StatusCompleted, core.StatusFields{ArtifactRef: a.ID}))

	require.NoError(t, s.DeleteFinished(ctx, job.ID))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = s.GetArtifact(ctx, a.ID)
	assert.ErrorIs(t, err, core.ErrArtifactNotFound)
	_, err = s.GetArtifact(ctx, other.ID)
	assert.NoError(t, err)
}

func TestDeleteFinished_RefusesUnfinishedJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	pending := createJob(t, s, newTestJob("alice"))
	running := createJob(t, s, newTestJob("bob"))
	startJob(t, s, running)

	assert.ErrorIs(t, s.DeleteFinished(ctx, pending.ID), core.ErrJobBusy)
	assert.ErrorIs(t, s.DeleteFinished(ctx, running.ID), core.ErrJobBusy)
	assert.ErrorIs(t, s.DeleteFinished(ctx, "nope"), core.ErrJobNotFound)

	got, err := s.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// ──────────────────────────────────────────────────────────────────────────────
// Metadata
// ──────────────────────────────────────────────────────────────────────────────

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))

	name := "renamed.csv"
	format := core.FormatCSV
	require.NoError(t, s.UpdateMetadata(ctx, job.ID, core.JobUpdate{InputFilename: &name, OutputFormat: &format}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed.csv", got.InputFilename)
	assert.Equal(t, core.FormatCSV, got.OutputFormat)
	assert.Equal(t, core.StatusPending, got.Status)
}

func TestUpdateMetadata_ProcessingJobKeepsFormat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))
	startJob(t, s, job)

	format := core.FormatExcel
	assert.ErrorIs(t, s.UpdateMetadata(ctx, job.ID, core.JobUpdate{OutputFormat: &format}), core.ErrJobBusy)

	name := "still-allowed.csv"
	require.NoError(t, s.UpdateMetadata(ctx, job.ID, core.JobUpdate{InputFilename: &name}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "still-allowed.csv", got.InputFilename)
	assert.NotEqual(t, core.FormatExcel, got.OutputFormat)

	assert.ErrorIs(t, s.UpdateMetadata(ctx, "nope", core.JobUpdate{InputFilename: &name}), core.ErrJobNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Heartbeat / ListStale
// ──────────────────────────────────────────────────────────────────────────────

func TestHeartbeat_OnlyForProcessingJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))

	assert.ErrorIs(t, s.Heartbeat(ctx, job.ID), core.ErrIllegalTransition)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.UpdateStatus(ctx, job.ID, core.StatusProcessing, core.StatusFields{At: old}))
	require.NoError(t, s.Heartbeat(ctx, job.ID))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HeartbeatAt)
	assert.WithinDuration(t, time.Now(), *got.HeartbeatAt, 5*time.Second)
}

func TestListStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stale := createJob(t, s, newTestJob("alice"))
	require.NoError(t, s.UpdateStatus(ctx, stale.ID, core.StatusProcessing, core.StatusFields{At: time.Now().Add(-time.Hour)}))

	fresh := createJob(t, s, newTestJob("bob"))
	startJob(t, s, fresh)

	createJob(t, s, newTestJob("carol"))

	jobs, err := s.ListStale(ctx, time.Now().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stale.ID, jobs[0].ID)

	jobs, err = s.ListStale(ctx, time.Now().Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stale.ID, jobs[0].ID, "oldest heartbeat first")
}

// ──────────────────────────────────────────────────────────────────────────────
// Artifacts
// ──────────────────────────────────────────────────────────────────────────────

func TestArtifact_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &core.Artifact{JobID: "job-1", Filename: "out.csv", ContentType: "text/csv", Data: []byte("a\n1\n")}
	require.NoError(t, s.SaveArtifact(ctx, a))
	require.NotEmpty(t, a.ID)

	got, err := s.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "out.csv", got.Filename)
	assert.Equal(t, []byte("a\n1\n"), got.Data)

	_, err = s.GetArtifact(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrArtifactNotFound)
}
