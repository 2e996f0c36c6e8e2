package store

import (
	"context"
	_ "embed"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solharbor/airmend/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	locks map[string]*pgxpool.Conn
}

// NewPostgres connects a pool and returns the store.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, locks: make(map[string]*pgxpool.Conn)}, nil
}

// EnsureSchema applies the embedded schema (idempotent).
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return &models.PersistenceError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Close releases the pool and any held advisory-lock connections.
func (s *Postgres) Close() {
	s.mu.Lock()
	for _, conn := range s.locks {
		conn.Release()
	}
	s.locks = make(map[string]*pgxpool.Conn)
	s.mu.Unlock()

	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertStations inserts/updates station metadata records.
func (s *Postgres) UpsertStations(ctx context.Context, stations []models.Station) error {
	if len(stations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO airmend.stations (id, name, display_name, lat, lon, station_type, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    display_name = EXCLUDED.display_name,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    station_type = EXCLUDED.station_type,
    updated_at = NOW()`

	for _, st := range stations {
		batch.Queue(query, st.ID, st.Name, st.DisplayName, st.Lat, st.Lon, st.Type)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range stations {
		if _, err := res.Exec(); err != nil {
			return &models.PersistenceError{Op: "upsert stations", Err: err}
		}
	}
	return nil
}

const listStationsSQL = `
	SELECT id, name, display_name, lat, lon, station_type, created_at, updated_at
	FROM airmend.stations
	ORDER BY id
`

// ListStations returns all station metadata.
func (s *Postgres) ListStations(ctx context.Context) ([]models.Station, error) {
	rows, err := s.pool.Query(ctx, listStationsSQL)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list stations", Err: err}
	}
	defer rows.Close()

	stations := make([]models.Station, 0)
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.DisplayName, &st.Lat, &st.Lon, &st.Type, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, &models.PersistenceError{Op: "scan station", Err: err}
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// GetStation returns one station or nil when unknown.
func (s *Postgres) GetStation(ctx context.Context, id string) (*models.Station, error) {
	var st models.Station
	err := s.pool.QueryRow(ctx, `
	SELECT id, name, display_name, lat, lon, station_type, created_at, updated_at
	FROM airmend.stations WHERE id = $1`, id).
		Scan(&st.ID, &st.Name, &st.DisplayName, &st.Lat, &st.Lon, &st.Type, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get station", Err: err}
	}
	return &st, nil
}

// UpsertReadings writes normalized hourly slots. The conflict guard keeps a
// stored imputed value from being nulled out by a missing refetch.
func (s *Postgres) UpsertReadings(ctx context.Context, readings []models.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO airmend.readings (station_id, ts, parameter, value, imputed, model_version, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (station_id, ts, parameter) DO UPDATE
SET value = EXCLUDED.value,
    imputed = EXCLUDED.imputed,
    model_version = EXCLUDED.model_version,
    updated_at = NOW()
WHERE NOT (readings.imputed AND EXCLUDED.value IS NULL)`

	for _, r := range readings {
		batch.Queue(query, r.StationID, r.TS, r.Parameter, r.Value, r.Imputed, r.ModelVersion)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	written := 0
	for range readings {
		tag, err := res.Exec()
		if err != nil {
			return written, &models.PersistenceError{Op: "upsert readings", Err: err}
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// Series returns the ordered hourly slots for [from, to).
func (s *Postgres) Series(ctx context.Context, stationID, parameter string, from, to time.Time) ([]models.Reading, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT station_id, ts, parameter, value, imputed, model_version
	FROM airmend.readings
	WHERE station_id = $1 AND parameter = $2 AND ts >= $3 AND ts < $4
	ORDER BY ts`, stationID, parameter, from, to)
	if err != nil {
		return nil, &models.PersistenceError{Op: "series", Err: err}
	}
	defer rows.Close()

	series := make([]models.Reading, 0)
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.StationID, &r.TS, &r.Parameter, &r.Value, &r.Imputed, &r.ModelVersion); err != nil {
			return nil, &models.PersistenceError{Op: "scan reading", Err: err}
		}
		r.TS = r.TS.UTC()
		series = append(series, r)
	}
	return series, rows.Err()
}

// ApplyImputation writes value + flags onto the reading and appends the
// event in one transaction, superseding any prior live event for the key.
func (s *Postgres) ApplyImputation(ctx context.Context, ev models.ImputationEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "begin imputation tx", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
	INSERT INTO airmend.readings (station_id, ts, parameter, value, imputed, model_version, updated_at)
	VALUES ($1,$2,$3,$4,true,$5,NOW())
	ON CONFLICT (station_id, ts, parameter) DO UPDATE
	SET value = EXCLUDED.value, imputed = true, model_version = EXCLUDED.model_version, updated_at = NOW()`,
		ev.StationID, ev.TS, ev.Parameter, ev.Value, ev.ModelVersion); err != nil {
		return &models.PersistenceError{Op: "write imputed reading", Err: err}
	}

	if _, err := tx.Exec(ctx, `
	UPDATE airmend.imputation_events SET reverted_at = NOW()
	WHERE station_id = $1 AND ts = $2 AND parameter = $3 AND reverted_at IS NULL`,
		ev.StationID, ev.TS, ev.Parameter); err != nil {
		return &models.PersistenceError{Op: "supersede events", Err: err}
	}

	if _, err := tx.Exec(ctx, `
	INSERT INTO airmend.imputation_events (station_id, ts, parameter, value, window_start, window_end, model_version, confidence)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.StationID, ev.TS, ev.Parameter, ev.Value, ev.WindowStart, ev.WindowEnd, ev.ModelVersion, ev.Confidence); err != nil {
		return &models.PersistenceError{Op: "append event", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &models.PersistenceError{Op: "commit imputation", Err: err}
	}
	return nil
}

// RevertImputation rolls one imputed hour back to null and soft-deletes the
// live event.
func (s *Postgres) RevertImputation(ctx context.Context, stationID string, ts time.Time, parameter string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "begin revert tx", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
	UPDATE airmend.imputation_events SET reverted_at = NOW()
	WHERE station_id = $1 AND ts = $2 AND parameter = $3 AND reverted_at IS NULL`,
		stationID, ts, parameter)
	if err != nil {
		return &models.PersistenceError{Op: "revert event", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNoLiveEvent
	}

	if _, err := tx.Exec(ctx, `
	UPDATE airmend.readings
	SET value = NULL, imputed = false, model_version = NULL, updated_at = NOW()
	WHERE station_id = $1 AND ts = $2 AND parameter = $3`,
		stationID, ts, parameter); err != nil {
		return &models.PersistenceError{Op: "revert reading", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &models.PersistenceError{Op: "commit revert", Err: err}
	}
	return nil
}

// ListEvents returns the imputation audit trail, newest first.
func (s *Postgres) ListEvents(ctx context.Context, q EventQuery) ([]models.ImputationEvent, error) {
	sql := `
	SELECT id, station_id, ts, parameter, value, window_start, window_end, model_version, confidence, reverted_at, created_at
	FROM airmend.imputation_events
	WHERE station_id = $1`
	args := []any{q.StationID}
	argPos := 2

	if q.Parameter != "" {
		sql += " AND parameter = $" + strconv.Itoa(argPos)
		args = append(args, q.Parameter)
		argPos++
	}
	if q.From != nil {
		sql += " AND ts >= $" + strconv.Itoa(argPos)
		args = append(args, *q.From)
		argPos++
	}
	if q.To != nil {
		sql += " AND ts < $" + strconv.Itoa(argPos)
		args = append(args, *q.To)
		argPos++
	}
	if !q.IncludeReverted {
		sql += " AND reverted_at IS NULL"
	}
	sql += " ORDER BY ts DESC, id DESC"
	if q.Limit > 0 {
		sql += " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list events", Err: err}
	}
	defer rows.Close()

	events := make([]models.ImputationEvent, 0)
	for rows.Next() {
		var ev models.ImputationEvent
		if err := rows.Scan(&ev.ID, &ev.StationID, &ev.TS, &ev.Parameter, &ev.Value,
			&ev.WindowStart, &ev.WindowEnd, &ev.ModelVersion, &ev.Confidence, &ev.RevertedAt, &ev.CreatedAt); err != nil {
			return nil, &models.PersistenceError{Op: "scan event", Err: err}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateRun persists a new running ingestion run.
func (s *Postgres) CreateRun(ctx context.Context, run *models.IngestionRun) error {
	_, err := s.pool.Exec(ctx, `
	INSERT INTO airmend.ingestion_runs (id, station_ids, parameters, range_start, range_end, status, started_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.StationIDs, run.Parameters, run.RangeStart, run.RangeEnd, run.Status, run.StartedAt)
	if err != nil {
		return &models.PersistenceError{Op: "create run", Err: err}
	}
	return nil
}

// UpdateRun persists status, counts and terminal fields.
func (s *Postgres) UpdateRun(ctx context.Context, run *models.IngestionRun) error {
	_, err := s.pool.Exec(ctx, `
	UPDATE airmend.ingestion_runs
	SET status = $2, fetched = $3, inserted = $4, missing = $5, imputed = $6, skipped = $7, flagged = $8,
	    error = $9, finished_at = $10
	WHERE id = $1`,
		run.ID, run.Status, run.Counts.Fetched, run.Counts.Inserted, run.Counts.Missing,
		run.Counts.Imputed, run.Counts.Skipped, run.Counts.Flagged, run.Error, run.FinishedAt)
	if err != nil {
		return &models.PersistenceError{Op: "update run", Err: err}
	}
	return nil
}

const runColumns = `id, station_ids, parameters, range_start, range_end, status,
	fetched, inserted, missing, imputed, skipped, flagged, error, started_at, finished_at`

func scanRun(row pgx.Row) (*models.IngestionRun, error) {
	var run models.IngestionRun
	if err := row.Scan(&run.ID, &run.StationIDs, &run.Parameters, &run.RangeStart, &run.RangeEnd, &run.Status,
		&run.Counts.Fetched, &run.Counts.Inserted, &run.Counts.Missing, &run.Counts.Imputed,
		&run.Counts.Skipped, &run.Counts.Flagged, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun returns one ingestion run.
func (s *Postgres) GetRun(ctx context.Context, id string) (*models.IngestionRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM airmend.ingestion_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get run", Err: err}
	}
	return run, nil
}

// ListRuns returns recent runs, newest first.
func (s *Postgres) ListRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM airmend.ingestion_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	runs := make([]models.IngestionRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, &models.PersistenceError{Op: "scan run", Err: err}
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RecoverStaleRuns fails any run still marked running, for startup recovery.
func (s *Postgres) RecoverStaleRuns(ctx context.Context, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
	UPDATE airmend.ingestion_runs
	SET status = 'failed', error = $1, finished_at = NOW()
	WHERE status = 'running'`, reason)
	if err != nil {
		return 0, &models.PersistenceError{Op: "recover stale runs", Err: err}
	}
	return int(tag.RowsAffected()), nil
}

// TryLockStation takes a session advisory lock keyed on the station id. The
// connection is pinned until UnlockStation so the lock survives pool reuse.
func (s *Postgres) TryLockStation(ctx context.Context, stationID string) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, &models.PersistenceError{Op: "acquire lock conn", Err: err}
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, stationID).Scan(&locked); err != nil {
		conn.Release()
		return false, &models.PersistenceError{Op: "advisory lock", Err: err}
	}
	if !locked {
		conn.Release()
		return false, nil
	}

	s.mu.Lock()
	s.locks[stationID] = conn
	s.mu.Unlock()
	return true, nil
}

// UnlockStation releases the advisory lock and its pinned connection.
func (s *Postgres) UnlockStation(ctx context.Context, stationID string) error {
	s.mu.Lock()
	conn, ok := s.locks[stationID]
	delete(s.locks, stationID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, stationID)
	conn.Release()
	if err != nil {
		return &models.PersistenceError{Op: "advisory unlock", Err: err}
	}
	return nil
}

// Completeness summarizes one (station, parameter) series over [from, to).
func (s *Postgres) Completeness(ctx context.Context, stationID, parameter string, from, to time.Time) (models.Completeness, error) {
	c := models.Completeness{StationID: stationID, Parameter: parameter, From: from, To: to}

	err := s.pool.QueryRow(ctx, `
	SELECT COUNT(*),
	       COUNT(*) FILTER (WHERE value IS NOT NULL AND NOT imputed),
	       COUNT(*) FILTER (WHERE imputed),
	       COUNT(*) FILTER (WHERE value IS NULL)
	FROM airmend.readings
	WHERE station_id = $1 AND parameter = $2 AND ts >= $3 AND ts < $4`,
		stationID, parameter, from, to).
		Scan(&c.Total, &c.Measured, &c.Imputed, &c.Missing)
	if err != nil {
		return c, &models.PersistenceError{Op: "completeness", Err: err}
	}

	if c.Total > 0 {
		c.CompletePct = 100 * float64(c.Total-c.Missing) / float64(c.Total)
		c.ImputedPct = 100 * float64(c.Imputed) / float64(c.Total)
	}
	return c, nil
}
