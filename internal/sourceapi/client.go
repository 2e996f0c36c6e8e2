// Package sourceapi consumes the station-network Source API: station metadata
// and hourly historical readings.
package sourceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/solharbor/airmend/internal/httpx"
	"github.com/solharbor/airmend/internal/models"
)

const resultOK = "OK"

// Client talks to the Source API with retries, backoff and a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	backoff httpx.BackoffConfig
	breaker *gobreaker.CircuitBreaker

	// maxSpan is the largest date range the upstream accepts per history
	// call; longer requests are chunked.
	maxSpan time.Duration
}

// New builds a Client. timeout bounds each HTTP request; maxSpan caps the
// per-call history range (the upstream rejects spans over 30 days).
func New(baseURL string, timeout, maxSpan time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		backoff: httpx.DefaultBackoff,
		breaker: httpx.NewBreaker("source-api"),
		maxSpan: maxSpan,
	}
}

type stationsResponse struct {
	Result   string        `json:"result"`
	Stations []stationItem `json:"stations"`
}

type stationItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DisplayName *string `json:"display_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Type        *string `json:"type"`
}

type historyResponse struct {
	Result string         `json:"result"`
	Data   []historyPoint `json:"data"`
}

type historyPoint struct {
	TS    string   `json:"ts"`
	Value *float64 `json:"value"`
}

// FetchStations retrieves the station metadata list.
func (c *Client) FetchStations(ctx context.Context) ([]models.Station, error) {
	u := c.baseURL + "/v1/stations"

	resp, err := httpx.Do(ctx, c.http, c.backoff, c.breaker, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, &models.FetchError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	var payload stationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &models.FetchError{URL: u, Err: fmt.Errorf("decode payload: %w", err)}
	}
	if payload.Result != resultOK {
		return nil, &models.FetchError{URL: u, Err: fmt.Errorf("result %q", payload.Result)}
	}

	stations := make([]models.Station, 0, len(payload.Stations))
	for _, st := range payload.Stations {
		stations = append(stations, models.Station{
			ID:          st.ID,
			Name:        st.Name,
			DisplayName: st.DisplayName,
			Lat:         st.Latitude,
			Lon:         st.Longitude,
			Type:        st.Type,
		})
	}
	return stations, nil
}

// FetchHistory retrieves hourly readings for one station and parameter over
// [start, end). Ranges longer than the upstream's per-call limit are fetched
// in consecutive chunks. Timestamps that fail to parse yield a
// ValidationError; a non-OK result status yields a FetchError.
func (c *Client) FetchHistory(ctx context.Context, stationID, parameter string, start, end time.Time) ([]models.RawReading, error) {
	var out []models.RawReading

	for chunkStart := start; chunkStart.Before(end); {
		chunkEnd := chunkStart.Add(c.maxSpan)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		points, err := c.fetchChunk(ctx, stationID, parameter, chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, points...)
		chunkStart = chunkEnd
	}

	return out, nil
}

func (c *Client) fetchChunk(ctx context.Context, stationID, parameter string, start, end time.Time) ([]models.RawReading, error) {
	q := url.Values{}
	q.Set("station", stationID)
	q.Set("parameter", parameter)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	u := c.baseURL + "/v1/history?" + q.Encode()

	resp, err := httpx.Do(ctx, c.http, c.backoff, c.breaker, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, &models.FetchError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &models.FetchError{URL: u, Err: fmt.Errorf("decode payload: %w", err)}
	}
	if payload.Result != resultOK {
		return nil, &models.FetchError{URL: u, Err: fmt.Errorf("result %q", payload.Result)}
	}

	points := make([]models.RawReading, 0, len(payload.Data))
	for _, p := range payload.Data {
		ts, err := time.Parse(time.RFC3339, p.TS)
		if err != nil {
			return nil, &models.ValidationError{StationID: stationID, Reason: fmt.Sprintf("unparseable timestamp %q", p.TS)}
		}
		points = append(points, models.RawReading{TS: ts.UTC(), Value: p.Value})
	}
	return points, nil
}
