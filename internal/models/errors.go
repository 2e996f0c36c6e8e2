package models

import (
	"fmt"
	"time"
)

// FetchError wraps a failure to reach or read from the Source API. After the
// client's own retries are exhausted it is fatal to the run; the external
// scheduler retries with backoff.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports malformed or out-of-range input timestamps. It
// aborts normalization for the batch and fails the run.
type ValidationError struct {
	StationID string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for station %s: %s", e.StationID, e.Reason)
}

// InsufficientContextError marks a single hour that cannot be imputed because
// fewer than the required window hours precede it with valid values. Recovered
// locally as a skip; never fails the run.
type InsufficientContextError struct {
	StationID string
	Parameter string
	TS        time.Time
	Valid     int
}

func (e *InsufficientContextError) Error() string {
	return fmt.Sprintf("insufficient context for %s/%s at %s: %d valid window hours",
		e.StationID, e.Parameter, e.TS.Format(time.RFC3339), e.Valid)
}

// ModelUnavailableError marks a Model Store timeout or transport failure for a
// single hour. Recovered locally as a skip; retryable on the next run.
type ModelUnavailableError struct {
	StationID string
	Parameter string
	Err       error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model store unavailable for %s/%s: %v", e.StationID, e.Parameter, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// NegativePredictionError marks a physically impossible prediction. The hour
// is skipped and the error logged for model-quality review.
type NegativePredictionError struct {
	StationID string
	Parameter string
	TS        time.Time
	Value     float64
}

func (e *NegativePredictionError) Error() string {
	return fmt.Sprintf("negative prediction %.4f for %s/%s at %s",
		e.Value, e.StationID, e.Parameter, e.TS.Format(time.RFC3339))
}

// PersistenceError wraps a storage failure. Fatal: the run is marked failed
// and surfaced to the scheduler for retry with backoff.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
