// Package audit exposes the imputation audit trail, completeness summaries
// and the rollback operation over the append-only event log.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/solharbor/airmend/internal/models"
	"github.com/solharbor/airmend/internal/store"
)

// Service reads and reverts the audit trail. Events are soft-deleted only;
// history is never physically erased.
type Service struct {
	store store.Store
}

// NewService builds a Service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Trail returns the imputation events matching the query, newest first.
func (s *Service) Trail(ctx context.Context, q store.EventQuery) ([]models.ImputationEvent, error) {
	return s.store.ListEvents(ctx, q)
}

// Rollback reverts one imputed (station, hour, parameter) to null/unimputed
// and marks its live event reverted. Returns store.ErrNoLiveEvent when there
// is nothing to revert.
func (s *Service) Rollback(ctx context.Context, stationID string, ts time.Time, parameter string) error {
	if err := s.store.RevertImputation(ctx, stationID, ts.UTC().Truncate(time.Hour), parameter); err != nil {
		return err
	}
	log.Printf("audit: rolled back station=%s parameter=%s ts=%s", stationID, parameter, ts.UTC().Format(time.RFC3339))
	return nil
}

// Completeness summarizes a (station, parameter) series for the dashboard.
func (s *Service) Completeness(ctx context.Context, stationID, parameter string, from, to time.Time) (models.Completeness, error) {
	return s.store.Completeness(ctx, stationID, parameter, from, to)
}
