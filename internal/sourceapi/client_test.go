package sourceapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solharbor/airmend/internal/models"
)

func TestFetchStations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stations", r.URL.Path)
		fmt.Fprint(w, `{"result":"OK","stations":[
			{"id":"st1","name":"centro","display_name":"Centro","latitude":6.25,"longitude":-75.57,"type":"urban"},
			{"id":"st2","name":"norte","latitude":6.30,"longitude":-75.55}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, 30*24*time.Hour)
	stations, err := c.FetchStations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)

	assert.Equal(t, "st1", stations[0].ID)
	require.NotNil(t, stations[0].DisplayName)
	assert.Equal(t, "Centro", *stations[0].DisplayName)
	assert.Equal(t, 6.25, stations[0].Lat)
	assert.Nil(t, stations[1].DisplayName)
	assert.Nil(t, stations[1].Type)
}

func TestFetchStations_NonOKResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"ERROR"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, 30*24*time.Hour)
	_, err := c.FetchStations(context.Background())

	var ferr *models.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, ferr.Error(), "ERROR")
}

func TestFetchHistory_ChunksLongRanges(t *testing.T) {
	type span struct{ start, end string }
	var seen []span
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/history", r.URL.Path)
		assert.Equal(t, "st1", r.URL.Query().Get("station"))
		assert.Equal(t, "pm25", r.URL.Query().Get("parameter"))
		seen = append(seen, span{r.URL.Query().Get("start"), r.URL.Query().Get("end")})
		fmt.Fprint(w, `{"result":"OK","data":[]}`)
	}))
	defer srv.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(70 * 24 * time.Hour)

	c := New(srv.URL, 5*time.Second, 30*24*time.Hour)
	_, err := c.FetchHistory(context.Background(), "st1", "pm25", start, end)
	require.NoError(t, err)

	require.Len(t, seen, 3, "70 days fetched as 30+30+10")
	assert.Equal(t, start.Format(time.RFC3339), seen[0].start)
	assert.Equal(t, seen[0].end, seen[1].start, "chunks are consecutive")
	assert.Equal(t, seen[1].end, seen[2].start)
	assert.Equal(t, end.Format(time.RFC3339), seen[2].end)
}

func TestFetchHistory_ParsesValuesAndNulls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"OK","data":[
			{"ts":"2025-01-01T10:00:00Z","value":12.5},
			{"ts":"2025-01-01T11:00:00Z","value":null}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, 30*24*time.Hour)
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	points, err := c.FetchHistory(context.Background(), "st1", "pm25", start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 2)

	require.NotNil(t, points[0].Value)
	assert.Equal(t, 12.5, *points[0].Value)
	assert.Equal(t, start, points[0].TS)
	assert.Nil(t, points[1].Value)
}

func TestFetchHistory_BadTimestampIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"OK","data":[{"ts":"yesterday","value":1}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, 30*24*time.Hour)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.FetchHistory(context.Background(), "st1", "pm25", start, start.Add(time.Hour))

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "st1", verr.StationID)
	assert.Contains(t, verr.Reason, "yesterday")
}
