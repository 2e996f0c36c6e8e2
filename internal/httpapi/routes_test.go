package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solharbor/airmend/internal/audit"
	"github.com/solharbor/airmend/internal/config"
	"github.com/solharbor/airmend/internal/models"
	"github.com/solharbor/airmend/internal/store"
)

var imputedAt = time.Date(2025, 3, 2, 5, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func newTestServer(t *testing.T, cfg config.Config) (*Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.UpsertStations(ctx, []models.Station{
		{ID: "st1", Name: "centro", Lat: 6.25, Lon: -75.57},
	}))
	_, err := mem.UpsertReadings(ctx, []models.Reading{
		{StationID: "st1", Parameter: "pm25", TS: imputedAt.Add(-2 * time.Hour), Value: fptr(10)},
		{StationID: "st1", Parameter: "pm25", TS: imputedAt.Add(-time.Hour), Value: fptr(11)},
		{StationID: "st1", Parameter: "pm25", TS: imputedAt.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.NoError(t, mem.ApplyImputation(ctx, models.ImputationEvent{
		StationID:    "st1",
		TS:           imputedAt,
		Parameter:    "pm25",
		Value:        12.5,
		WindowStart:  imputedAt.Add(-24 * time.Hour),
		WindowEnd:    imputedAt.Add(-time.Hour),
		ModelVersion: "v3",
	}))

	return New(cfg, mem, audit.NewService(mem)), mem
}

func doRequest(srv *Server, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7})
	w := doRequest(srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListStations(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7})
	w := doRequest(srv, http.MethodGet, "/api/v1/stations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []models.Station `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Meta.Count)
	assert.Equal(t, "st1", resp.Data[0].ID)
}

func TestGetStation_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7})
	w := doRequest(srv, http.MethodGet, "/api/v1/stations/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompleteness(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7})

	start := imputedAt.Add(-2 * time.Hour).Format(time.RFC3339)
	end := imputedAt.Add(2 * time.Hour).Format(time.RFC3339)
	w := doRequest(srv, http.MethodGet,
		"/api/v1/stations/st1/completeness?parameter=pm25&start="+start+"&end="+end, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data models.Completeness `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Measured)
	assert.Equal(t, 1, resp.Data.Imputed)
	assert.Equal(t, 1, resp.Data.Missing)
}

func TestCompleteness_RequiresParameter(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7})
	w := doRequest(srv, http.MethodGet, "/api/v1/stations/st1/completeness", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditTrail(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7})
	w := doRequest(srv, http.MethodGet, "/api/v1/stations/st1/audit", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []models.ImputationEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 12.5, resp.Data[0].Value)
	assert.Equal(t, "v3", resp.Data[0].ModelVersion)
	assert.Nil(t, resp.Data[0].RevertedAt)
}

func TestRollback_RoundTrip(t *testing.T) {
	srv, mem := newTestServer(t, config.Config{APIDefaultDays: 7})

	body := `{"station_id":"st1","ts":"` + imputedAt.Format(time.RFC3339) + `","parameter":"pm25"}`
	w := doRequest(srv, http.MethodPost, "/api/v1/rollback", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	series, err := mem.Series(context.Background(), "st1", "pm25", imputedAt, imputedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Nil(t, series[0].Value)
	assert.False(t, series[0].Imputed)

	// A second rollback of the same hour has nothing left to revert.
	w = doRequest(srv, http.MethodPost, "/api/v1/rollback", body, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRollback_ValidatesBody(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7})

	w := doRequest(srv, http.MethodPost, "/api/v1/rollback", `{"station_id":"st1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/v1/rollback",
		`{"station_id":"st1","ts":"tomorrow","parameter":"pm25"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuns(t *testing.T) {
	srv, mem := newTestServer(t, config.Config{APIDefaultDays: 7})

	now := time.Now().UTC()
	run := models.IngestionRun{
		ID:         "run-1",
		Status:     models.RunCompleted,
		StationIDs: []string{"st1"},
		Parameters: []string{"pm25"},
		RangeStart: imputedAt.Add(-72 * time.Hour),
		RangeEnd:   imputedAt,
		StartedAt:  now,
		FinishedAt: &now,
	}
	require.NoError(t, mem.CreateRun(context.Background(), &run))

	w := doRequest(srv, http.MethodGet, "/api/v1/runs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/runs/run-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data models.IngestionRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.RunCompleted, resp.Data.Status)

	w = doRequest(srv, http.MethodGet, "/api/v1/runs/absent", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{APIDefaultDays: 7, BearerToken: "sekrit"})

	w := doRequest(srv, http.MethodGet, "/api/v1/stations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/stations", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/stations", "", map[string]string{"Authorization": "Bearer sekrit"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open for probes.
	w = doRequest(srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
