// Package run owns the IngestionRun lifecycle: begin, finish, fail, and
// recovery of runs orphaned by a dead process.
package run

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/solharbor/airmend/internal/models"
	"github.com/solharbor/airmend/internal/store"
)

// Scope defines what one run covers.
type Scope struct {
	StationIDs []string
	Parameters []string
	Start      time.Time
	End        time.Time
}

// Tracker persists run state transitions. Each run owns its own row; the only
// valid transitions are running -> completed and running -> failed.
type Tracker struct {
	store store.Store
}

// NewTracker builds a Tracker.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// Begin opens a new run in running state.
func (t *Tracker) Begin(ctx context.Context, scope Scope) (*models.IngestionRun, error) {
	// pgx encodes a nil slice as SQL NULL and the array columns are NOT NULL.
	stationIDs := scope.StationIDs
	if stationIDs == nil {
		stationIDs = []string{}
	}
	parameters := scope.Parameters
	if parameters == nil {
		parameters = []string{}
	}

	run := &models.IngestionRun{
		ID:         uuid.NewString(),
		StationIDs: stationIDs,
		Parameters: parameters,
		RangeStart: scope.Start,
		RangeEnd:   scope.End,
		Status:     models.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := t.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	log.Printf("run %s: started range=%s..%s stations=%d",
		run.ID, scope.Start.Format(time.RFC3339), scope.End.Format(time.RFC3339), len(scope.StationIDs))
	return run, nil
}

// Complete closes the run successfully with its final counts.
func (t *Tracker) Complete(ctx context.Context, run *models.IngestionRun, counts models.RunCounts) error {
	now := time.Now().UTC()
	run.Status = models.RunCompleted
	run.Counts = counts
	run.FinishedAt = &now
	if err := t.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	log.Printf("run %s: completed fetched=%d inserted=%d missing=%d imputed=%d skipped=%d flagged=%d",
		run.ID, counts.Fetched, counts.Inserted, counts.Missing, counts.Imputed, counts.Skipped, counts.Flagged)
	return nil
}

// Fail closes the run with an error message, keeping whatever counts were
// accumulated before the failure.
func (t *Tracker) Fail(ctx context.Context, run *models.IngestionRun, counts models.RunCounts, cause error) error {
	now := time.Now().UTC()
	msg := cause.Error()
	run.Status = models.RunFailed
	run.Counts = counts
	run.Error = &msg
	run.FinishedAt = &now
	if err := t.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	log.Printf("run %s: failed: %v", run.ID, cause)
	return nil
}

// Recover fails any run left in running state by a previous process. Call
// once at startup, before scheduling new runs.
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	n, err := t.store.RecoverStaleRuns(ctx, "interrupted by process restart")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("run: recovered %d stale running run(s)", n)
	}
	return n, nil
}
