package models

import "time"

// Station is one fixed monitoring site. Rows are upserted by metadata sync and
// never deleted while readings reference them.
type Station struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName *string   `json:"display_name,omitempty"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Type        *string   `json:"type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RawReading is one fetched observation before placement on the hourly index.
type RawReading struct {
	TS    time.Time
	Value *float64
}

// Reading is one slot on the hourly index for a (station, hour, parameter)
// key. The slot always exists once the range has been normalized; only the
// value may be null.
type Reading struct {
	StationID    string    `json:"station_id"`
	TS           time.Time `json:"ts"`
	Parameter    string    `json:"parameter"`
	Value        *float64  `json:"value"`
	Imputed      bool      `json:"imputed"`
	ModelVersion *string   `json:"model_version,omitempty"`
}

// GapClass is the length class of a missing-value run.
type GapClass string

const (
	GapShort  GapClass = "short"  // 1-3h
	GapMedium GapClass = "medium" // 4-24h
	GapLong   GapClass = "long"   // >24h, flagged only, never imputed
)

// Gap is a maximal run of consecutive missing hourly values for one parameter
// at one station. Derived by the detector, never stored on its own.
type Gap struct {
	StationID string    `json:"station_id"`
	Parameter string    `json:"parameter"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"` // inclusive last missing hour
	Hours     int       `json:"hours"`
	Class     GapClass  `json:"class"`
}

// ImputationEvent records one successful imputation. Append-only; rollback and
// reprocessing soft-delete via RevertedAt so audit history is preserved.
type ImputationEvent struct {
	ID           int64      `json:"id"`
	StationID    string     `json:"station_id"`
	TS           time.Time  `json:"ts"`
	Parameter    string     `json:"parameter"`
	Value        float64    `json:"value"`
	WindowStart  time.Time  `json:"window_start"`
	WindowEnd    time.Time  `json:"window_end"`
	ModelVersion string     `json:"model_version"`
	Confidence   *float64   `json:"confidence,omitempty"`
	RevertedAt   *time.Time `json:"reverted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RunStatus is the lifecycle state of an ingestion run. Running is transient
// and must not survive a process restart without recovery.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunCounts aggregates per-run statistics across all stations in scope.
type RunCounts struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Missing  int `json:"missing"`
	Imputed  int `json:"imputed"`
	Skipped  int `json:"skipped"`
	Flagged  int `json:"flagged"`
}

// Add accumulates another set of counts into c.
func (c *RunCounts) Add(o RunCounts) {
	c.Fetched += o.Fetched
	c.Inserted += o.Inserted
	c.Missing += o.Missing
	c.Imputed += o.Imputed
	c.Skipped += o.Skipped
	c.Flagged += o.Flagged
}

// IngestionRun is one ingest-detect-impute-commit pass over a station/date
// scope.
type IngestionRun struct {
	ID         string     `json:"id"`
	StationIDs []string   `json:"station_ids"`
	Parameters []string   `json:"parameters"`
	RangeStart time.Time  `json:"range_start"`
	RangeEnd   time.Time  `json:"range_end"`
	Status     RunStatus  `json:"status"`
	Counts     RunCounts  `json:"counts"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Completeness summarizes one (station, parameter) series over a range, for
// the dashboard read surface.
type Completeness struct {
	StationID   string    `json:"station_id"`
	Parameter   string    `json:"parameter"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Total       int       `json:"total"`
	Measured    int       `json:"measured"`
	Imputed     int       `json:"imputed"`
	Missing     int       `json:"missing"`
	CompletePct float64   `json:"complete_pct"`
	ImputedPct  float64   `json:"imputed_pct"`
}
