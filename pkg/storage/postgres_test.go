package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/extractq/pkg/core"
)

// skipIfNotPostgres skips the test when TEST_DATABASE_URL is not set.
func skipIfNotPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL-specific test")
	}
}

func TestUpdateStatus_PostgreSQL_ConcurrentTerminalWrites(t *testing.T) {
	skipIfNotPostgres(t)

	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))
	startJob(t, s, job)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, status := range []core.JobStatus{core.StatusCompleted, core.StatusFailed} {
		status := status
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.UpdateStatus(ctx, job.ID, status, core.StatusFields{Error: "race"})
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, core.ErrIllegalTransition):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
}

func TestDelete_PostgreSQL_RacesStart(t *testing.T) {
	skipIfNotPostgres(t)

	ctx := context.Background()
	s := newTestStore(t)
	job := createJob(t, s, newTestJob("alice"))

	var wg sync.WaitGroup
	var delErr, startErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		delErr = s.Delete(ctx, job.ID)
	}()
	go func() {
		defer wg.Done()
		startErr = s.UpdateStatus(ctx, job.ID, core.StatusProcessing, core.StatusFields{})
	}()
	wg.Wait()

	// Exactly one side wins.
	if delErr == nil {
		assert.ErrorIs(t, startErr, core.ErrJobNotFound)
	} else {
		assert.NoError(t, startErr)
		assert.ErrorIs(t, delErr, core.ErrNotCancelable)
	}
}
