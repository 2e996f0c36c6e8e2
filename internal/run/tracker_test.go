package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solharbor/airmend/internal/models"
	"github.com/solharbor/airmend/internal/store"
)

func scope() Scope {
	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	return Scope{
		StationIDs: []string{"st1"},
		Parameters: []string{"pm25"},
		Start:      end.Add(-72 * time.Hour),
		End:        end,
	}
}

func TestTracker_BeginComplete(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	ctx := context.Background()

	run, err := tr.Begin(ctx, scope())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunRunning, run.Status)

	counts := models.RunCounts{Fetched: 100, Inserted: 72, Missing: 5, Imputed: 4, Skipped: 1}
	require.NoError(t, tr.Complete(ctx, run, counts))

	stored, err := mem.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, stored.Status)
	assert.Equal(t, counts, stored.Counts)
	assert.NotNil(t, stored.FinishedAt)
	assert.Nil(t, stored.Error)
}

func TestTracker_BeginNormalizesEmptyScope(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	ctx := context.Background()

	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	run, err := tr.Begin(ctx, Scope{Start: end.Add(-24 * time.Hour), End: end})
	require.NoError(t, err)

	// Array columns are NOT NULL in Postgres; a nil slice would encode as NULL.
	stored, err := mem.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.StationIDs)
	assert.NotNil(t, stored.Parameters)
	assert.Empty(t, stored.StationIDs)
}

func TestTracker_Fail(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	ctx := context.Background()

	run, err := tr.Begin(ctx, scope())
	require.NoError(t, err)

	cause := errors.New("source api down")
	require.NoError(t, tr.Fail(ctx, run, models.RunCounts{Fetched: 10}, cause))

	stored, err := mem.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "source api down", *stored.Error)
	assert.Equal(t, 10, stored.Counts.Fetched)
}

func TestTracker_RecoverClosesStaleRuns(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	ctx := context.Background()

	orphan, err := tr.Begin(ctx, scope())
	require.NoError(t, err)

	done, err := tr.Begin(ctx, scope())
	require.NoError(t, err)
	require.NoError(t, tr.Complete(ctx, done, models.RunCounts{}))

	n, err := tr.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := mem.GetRun(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, stored.Status)
	require.NotNil(t, stored.Error)

	kept, err := mem.GetRun(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, kept.Status)
}
