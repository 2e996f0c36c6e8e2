// Package store persists stations, readings, imputation events and ingestion
// runs. Postgres is the production backend; Memory backs tests and offline
// evaluation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/solharbor/airmend/internal/models"
)

// ErrNoLiveEvent is returned by RevertImputation when the target reading has
// no non-reverted imputation event.
var ErrNoLiveEvent = errors.New("no live imputation event")

// ErrRunNotFound is returned when an ingestion run id is unknown.
var ErrRunNotFound = errors.New("ingestion run not found")

// EventQuery filters the imputation audit trail.
type EventQuery struct {
	StationID       string
	Parameter       string
	From            *time.Time
	To              *time.Time
	IncludeReverted bool
	Limit           int
}

// Store is the persistence port shared by the pipeline, audit service and
// read surface. Implementations must be safe for concurrent use.
type Store interface {
	UpsertStations(ctx context.Context, stations []models.Station) error
	ListStations(ctx context.Context) ([]models.Station, error)
	GetStation(ctx context.Context, id string) (*models.Station, error)

	// UpsertReadings writes normalized slots. A stored imputed value is never
	// replaced by an incoming null. Returns the number of rows written.
	UpsertReadings(ctx context.Context, readings []models.Reading) (int, error)
	// Series returns the ordered hourly slots for [from, to).
	Series(ctx context.Context, stationID, parameter string, from, to time.Time) ([]models.Reading, error)

	// ApplyImputation atomically writes the predicted value onto the reading
	// and appends the event, superseding any prior live event for the key.
	ApplyImputation(ctx context.Context, ev models.ImputationEvent) error
	// RevertImputation restores the reading to null/unimputed and soft-deletes
	// the live event.
	RevertImputation(ctx context.Context, stationID string, ts time.Time, parameter string) error
	ListEvents(ctx context.Context, q EventQuery) ([]models.ImputationEvent, error)

	CreateRun(ctx context.Context, run *models.IngestionRun) error
	UpdateRun(ctx context.Context, run *models.IngestionRun) error
	GetRun(ctx context.Context, id string) (*models.IngestionRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.IngestionRun, error)
	// RecoverStaleRuns closes runs left in running state by a dead process.
	RecoverStaleRuns(ctx context.Context, reason string) (int, error)

	// TryLockStation takes the per-station advisory lock; false means another
	// run holds it.
	TryLockStation(ctx context.Context, stationID string) (bool, error)
	UnlockStation(ctx context.Context, stationID string) error

	Completeness(ctx context.Context, stationID, parameter string, from, to time.Time) (models.Completeness, error)
}
