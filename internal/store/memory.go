package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/solharbor/airmend/internal/models"
)

type readingKey struct {
	station string
	ts      int64
	param   string
}

// Memory is an in-memory Store for tests and offline evaluation. Semantics
// mirror Postgres, including the imputed-over-null upsert guard and event
// supersession.
type Memory struct {
	mu       sync.Mutex
	stations map[string]models.Station
	readings map[readingKey]models.Reading
	events   []models.ImputationEvent
	runs     map[string]models.IngestionRun
	locks    map[string]bool
	nextID   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		stations: make(map[string]models.Station),
		readings: make(map[readingKey]models.Reading),
		runs:     make(map[string]models.IngestionRun),
		locks:    make(map[string]bool),
		nextID:   1,
	}
}

func key(r models.Reading) readingKey {
	return readingKey{station: r.StationID, ts: r.TS.UTC().Unix(), param: r.Parameter}
}

// UpsertStations implements Store.
func (m *Memory) UpsertStations(_ context.Context, stations []models.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, st := range stations {
		if prev, ok := m.stations[st.ID]; ok {
			st.CreatedAt = prev.CreatedAt
		} else {
			st.CreatedAt = now
		}
		st.UpdatedAt = now
		m.stations[st.ID] = st
	}
	return nil
}

// ListStations implements Store.
func (m *Memory) ListStations(_ context.Context) ([]models.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Station, 0, len(m.stations))
	for _, st := range m.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetStation implements Store.
func (m *Memory) GetStation(_ context.Context, id string) (*models.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stations[id]; ok {
		return &st, nil
	}
	return nil, nil
}

// UpsertReadings implements Store.
func (m *Memory) UpsertReadings(_ context.Context, readings []models.Reading) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for _, r := range readings {
		k := key(r)
		if prev, ok := m.readings[k]; ok && prev.Imputed && r.Value == nil {
			continue
		}
		m.readings[k] = r
		written++
	}
	return written, nil
}

// Series implements Store.
func (m *Memory) Series(_ context.Context, stationID, parameter string, from, to time.Time) ([]models.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Reading, 0)
	for _, r := range m.readings {
		if r.StationID != stationID || r.Parameter != parameter {
			continue
		}
		if r.TS.Before(from) || !r.TS.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

// ApplyImputation implements Store.
func (m *Memory) ApplyImputation(_ context.Context, ev models.ImputationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	val := ev.Value
	mv := ev.ModelVersion
	m.readings[readingKey{station: ev.StationID, ts: ev.TS.UTC().Unix(), param: ev.Parameter}] = models.Reading{
		StationID:    ev.StationID,
		TS:           ev.TS.UTC(),
		Parameter:    ev.Parameter,
		Value:        &val,
		Imputed:      true,
		ModelVersion: &mv,
	}

	now := time.Now().UTC()
	for i := range m.events {
		e := &m.events[i]
		if e.StationID == ev.StationID && e.Parameter == ev.Parameter && e.TS.Equal(ev.TS) && e.RevertedAt == nil {
			t := now
			e.RevertedAt = &t
		}
	}

	ev.ID = m.nextID
	m.nextID++
	ev.CreatedAt = now
	m.events = append(m.events, ev)
	return nil
}

// RevertImputation implements Store.
func (m *Memory) RevertImputation(_ context.Context, stationID string, ts time.Time, parameter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reverted := false
	now := time.Now().UTC()
	for i := range m.events {
		e := &m.events[i]
		if e.StationID == stationID && e.Parameter == parameter && e.TS.Equal(ts) && e.RevertedAt == nil {
			t := now
			e.RevertedAt = &t
			reverted = true
		}
	}
	if !reverted {
		return ErrNoLiveEvent
	}

	k := readingKey{station: stationID, ts: ts.UTC().Unix(), param: parameter}
	if r, ok := m.readings[k]; ok {
		r.Value = nil
		r.Imputed = false
		r.ModelVersion = nil
		m.readings[k] = r
	}
	return nil
}

// ListEvents implements Store.
func (m *Memory) ListEvents(_ context.Context, q EventQuery) ([]models.ImputationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ImputationEvent, 0)
	for _, e := range m.events {
		if e.StationID != q.StationID {
			continue
		}
		if q.Parameter != "" && e.Parameter != q.Parameter {
			continue
		}
		if q.From != nil && e.TS.Before(*q.From) {
			continue
		}
		if q.To != nil && !e.TS.Before(*q.To) {
			continue
		}
		if !q.IncludeReverted && e.RevertedAt != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TS.Equal(out[j].TS) {
			return out[i].TS.After(out[j].TS)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CreateRun implements Store.
func (m *Memory) CreateRun(_ context.Context, run *models.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

// UpdateRun implements Store.
func (m *Memory) UpdateRun(_ context.Context, run *models.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	m.runs[run.ID] = *run
	return nil
}

// GetRun implements Store.
func (m *Memory) GetRun(_ context.Context, id string) (*models.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[id]; ok {
		return &run, nil
	}
	return nil, ErrRunNotFound
}

// ListRuns implements Store.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]models.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.IngestionRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecoverStaleRuns implements Store.
func (m *Memory) RecoverStaleRuns(_ context.Context, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for id, run := range m.runs {
		if run.Status == models.RunRunning {
			run.Status = models.RunFailed
			r := reason
			run.Error = &r
			t := now
			run.FinishedAt = &t
			m.runs[id] = run
			n++
		}
	}
	return n, nil
}

// TryLockStation implements Store.
func (m *Memory) TryLockStation(_ context.Context, stationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[stationID] {
		return false, nil
	}
	m.locks[stationID] = true
	return true, nil
}

// UnlockStation implements Store.
func (m *Memory) UnlockStation(_ context.Context, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, stationID)
	return nil
}

// Completeness implements Store.
func (m *Memory) Completeness(ctx context.Context, stationID, parameter string, from, to time.Time) (models.Completeness, error) {
	series, err := m.Series(ctx, stationID, parameter, from, to)
	if err != nil {
		return models.Completeness{}, err
	}

	c := models.Completeness{StationID: stationID, Parameter: parameter, From: from, To: to, Total: len(series)}
	for _, r := range series {
		switch {
		case r.Value == nil:
			c.Missing++
		case r.Imputed:
			c.Imputed++
		default:
			c.Measured++
		}
	}
	if c.Total > 0 {
		c.CompletePct = 100 * float64(c.Total-c.Missing) / float64(c.Total)
		c.ImputedPct = 100 * float64(c.Imputed) / float64(c.Total)
	}
	return c, nil
}
