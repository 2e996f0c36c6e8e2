// Package pipeline executes one ingest -> normalize -> detect -> impute pass
// over a station/date scope. Stations run concurrently; within a station,
// parameters and gaps are processed strictly in time order.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/solharbor/airmend/internal/config"
	"github.com/solharbor/airmend/internal/gaps"
	"github.com/solharbor/airmend/internal/impute"
	"github.com/solharbor/airmend/internal/models"
	"github.com/solharbor/airmend/internal/modelstore"
	"github.com/solharbor/airmend/internal/normalize"
	"github.com/solharbor/airmend/internal/run"
	"github.com/solharbor/airmend/internal/store"
)

// SourceClient is the Source API port the pipeline consumes.
type SourceClient interface {
	FetchStations(ctx context.Context) ([]models.Station, error)
	FetchHistory(ctx context.Context, stationID, parameter string, start, end time.Time) ([]models.RawReading, error)
}

// Pipeline wires the normalizer, gap detector, orchestrator and run tracker.
type Pipeline struct {
	source  SourceClient
	model   modelstore.Client
	store   store.Store
	tracker *run.Tracker

	policy        config.ContextPolicy
	maxConcurrent int
	dryRun        bool
}

// New builds a Pipeline from configuration and its collaborators.
func New(cfg config.Config, source SourceClient, model modelstore.Client, st store.Store) *Pipeline {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		// The semaphore channel would otherwise block every station goroutine.
		maxConcurrent = 1
	}
	return &Pipeline{
		source:        source,
		model:         model,
		store:         st,
		tracker:       run.NewTracker(st),
		policy:        cfg.ContextPolicy,
		maxConcurrent: maxConcurrent,
		dryRun:        cfg.DryRun,
	}
}

// Tracker exposes the run tracker (for startup recovery).
func (p *Pipeline) Tracker() *run.Tracker { return p.tracker }

// Execute runs one pass. Per-hour problems are recovered inside the
// orchestrator; fetch, validation and persistence errors fail the whole run
// with the error captured on the IngestionRun row. Partially completed
// stations keep whatever was already committed.
func (p *Pipeline) Execute(ctx context.Context, scope run.Scope, force bool) (*models.IngestionRun, error) {
	scope.Start = scope.Start.UTC().Truncate(time.Hour)
	scope.End = scope.End.UTC().Truncate(time.Hour)

	// Resolve the station list before opening the run so the run row records
	// the stations actually in scope, not an empty filter.
	stations, fetchErr := p.source.FetchStations(ctx)
	if fetchErr == nil && len(scope.StationIDs) == 0 {
		for _, st := range stations {
			scope.StationIDs = append(scope.StationIDs, st.ID)
		}
	}

	runRec, err := p.tracker.Begin(ctx, scope)
	if err != nil {
		return nil, err
	}

	var counts models.RunCounts
	if fetchErr != nil {
		return runRec, p.fail(runRec, counts, fetchErr)
	}
	if err := p.store.UpsertStations(ctx, stations); err != nil {
		return runRec, p.fail(runRec, counts, err)
	}

	stationIDs := scope.StationIDs

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, p.maxConcurrent)

	for _, stationID := range stationIDs {
		stationID := stationID
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if runCtx.Err() != nil {
				return
			}

			locked, err := p.store.TryLockStation(runCtx, stationID)
			if err == nil && !locked {
				log.Printf("pipeline: station %s locked by another run, skipping", stationID)
				return
			}
			var stCounts models.RunCounts
			if err == nil {
				defer func() {
					unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if uerr := p.store.UnlockStation(unlockCtx, stationID); uerr != nil {
						log.Printf("pipeline: unlock station %s: %v", stationID, uerr)
					}
				}()
				stCounts, err = p.processStation(runCtx, stationID, scope, force)
			}

			mu.Lock()
			counts.Add(stCounts)
			if err != nil && firstErr == nil {
				firstErr = err
				cancelRun()
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return runRec, p.fail(runRec, counts, firstErr)
	}

	if err := p.tracker.Complete(ctx, runRec, counts); err != nil {
		return runRec, err
	}
	return runRec, nil
}

// fail closes the run on a detached context so the terminal state is
// persisted even when the run context was cancelled.
func (p *Pipeline) fail(runRec *models.IngestionRun, counts models.RunCounts, cause error) error {
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.tracker.Fail(finishCtx, runRec, counts, cause); err != nil {
		log.Printf("pipeline: persisting run failure: %v", err)
	}
	return cause
}

func (p *Pipeline) processStation(ctx context.Context, stationID string, scope run.Scope, force bool) (models.RunCounts, error) {
	var counts models.RunCounts

	for _, parameter := range scope.Parameters {
		raw, err := p.source.FetchHistory(ctx, stationID, parameter, scope.Start, scope.End)
		if err != nil {
			return counts, err
		}
		counts.Fetched += len(raw)

		existing, err := p.store.Series(ctx, stationID, parameter, scope.Start, scope.End)
		if err != nil {
			return counts, err
		}

		series, err := normalize.HourlySeries(stationID, parameter, scope.Start, scope.End, raw, existing)
		if err != nil {
			return counts, err
		}

		if p.dryRun {
			log.Printf("pipeline: dry-run, skipping writes for %s/%s (%d slots)", stationID, parameter, len(series))
		} else {
			written, err := p.store.UpsertReadings(ctx, series)
			if err != nil {
				return counts, err
			}
			counts.Inserted += written
			// Re-read so gap detection sees the committed state, including
			// imputed values preserved across the refetch.
			series, err = p.store.Series(ctx, stationID, parameter, scope.Start, scope.End)
			if err != nil {
				return counts, err
			}
		}

		detected := gaps.Detect(series)
		counts.Missing += gaps.MissingHours(series)
		if len(detected) == 0 {
			continue
		}

		if p.dryRun {
			log.Printf("pipeline: dry-run, found %d gap(s) for %s/%s, skipping imputation", len(detected), stationID, parameter)
			continue
		}

		gapCounts, err := p.imputeGaps(ctx, stationID, parameter, scope, detected, force)
		counts.Add(gapCounts)
		if err != nil {
			return counts, err
		}
	}

	return counts, nil
}

func (p *Pipeline) imputeGaps(ctx context.Context, stationID, parameter string, scope run.Scope, detected []models.Gap, force bool) (models.RunCounts, error) {
	var counts models.RunCounts

	pending, flagged := 0, 0
	for _, g := range detected {
		if g.Class == models.GapLong {
			flagged += g.Hours
		} else {
			pending += g.Hours
		}
	}

	ok, err := p.model.HasModel(ctx, stationID, parameter)
	if err != nil {
		log.Printf("pipeline: model store check failed for %s/%s: %v", stationID, parameter, err)
		counts.Skipped += pending
		counts.Flagged += flagged
		return counts, nil
	}
	if !ok {
		log.Printf("pipeline: no trained model for %s/%s, skipping %d pending hour(s)", stationID, parameter, pending)
		counts.Skipped += pending
		counts.Flagged += flagged
		return counts, nil
	}

	// Context window reaches back before the range start.
	contextStart := scope.Start.Add(-modelstore.WindowHours * time.Hour)
	history, err := p.store.Series(ctx, stationID, parameter, contextStart, scope.End)
	if err != nil {
		return counts, err
	}
	series := impute.NewSeries(history)

	orch := impute.New(p.model, p.store, impute.Options{Policy: p.policy, Force: force})
	for _, g := range detected {
		// Cancellation is honored between gap-processing steps.
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		res, err := orch.ProcessGap(ctx, series, g)
		counts.Add(res.Counts())
		if err != nil {
			return counts, err
		}
	}

	return counts, nil
}
