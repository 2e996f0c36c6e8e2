// Package modelstore defines the predict/train contract with the per-station
// Model Store and its HTTP implementation. Training cadence, architecture and
// scaling live on the other side of this contract.
package modelstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/solharbor/airmend/internal/httpx"
	"github.com/solharbor/airmend/internal/models"
)

// WindowHours is the model input size: the hours immediately preceding the
// hour being imputed.
const WindowHours = 24

// Prediction is one model output for a single missing hour.
type Prediction struct {
	Value        float64  `json:"value"`
	ModelVersion string   `json:"model_version"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Client is the Model Store port. Implementations must be safe for
// concurrent use across stations.
type Client interface {
	// Predict returns the model output for the window of WindowHours values
	// immediately preceding the target hour. Timeouts and transport failures
	// surface as ModelUnavailableError.
	Predict(ctx context.Context, stationID, parameter string, window []float64) (Prediction, error)
	// HasModel reports whether a trained model exists for the station and
	// parameter.
	HasModel(ctx context.Context, stationID, parameter string) (bool, error)
}

// HTTPClient talks to the Model Store service.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	backoff httpx.BackoffConfig
	breaker *gobreaker.CircuitBreaker
}

// NewHTTP builds an HTTPClient with the given per-request timeout.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		backoff: httpx.BackoffConfig{MaxRetries: 1, InitialInterval: 200 * time.Millisecond, MaxInterval: time.Second},
		breaker: httpx.NewBreaker("model-store"),
	}
}

type predictRequest struct {
	StationID string    `json:"station_id"`
	Parameter string    `json:"parameter"`
	Window    []float64 `json:"window"`
}

// Predict implements Client.
func (c *HTTPClient) Predict(ctx context.Context, stationID, parameter string, window []float64) (Prediction, error) {
	if len(window) != WindowHours {
		return Prediction{}, fmt.Errorf("window must hold %d values, got %d", WindowHours, len(window))
	}

	body, err := json.Marshal(predictRequest{StationID: stationID, Parameter: parameter, Window: window})
	if err != nil {
		return Prediction{}, err
	}

	u := c.baseURL + "/v1/predict"
	resp, err := httpx.Do(ctx, c.http, c.backoff, c.breaker, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return Prediction{}, &models.ModelUnavailableError{StationID: stationID, Parameter: parameter, Err: err}
	}
	defer resp.Body.Close()

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, &models.ModelUnavailableError{StationID: stationID, Parameter: parameter, Err: fmt.Errorf("decode prediction: %w", err)}
	}
	if pred.ModelVersion == "" {
		return Prediction{}, &models.ModelUnavailableError{StationID: stationID, Parameter: parameter, Err: errors.New("prediction missing model_version")}
	}
	return pred, nil
}

// HasModel implements Client. A 404 means no trained model; other failures
// surface as ModelUnavailableError.
func (c *HTTPClient) HasModel(ctx context.Context, stationID, parameter string) (bool, error) {
	u := fmt.Sprintf("%s/v1/models/%s/%s", c.baseURL, stationID, parameter)

	resp, err := httpx.Do(ctx, c.http, c.backoff, c.breaker, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return false, &models.ModelUnavailableError{StationID: stationID, Parameter: parameter, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &models.ModelUnavailableError{StationID: stationID, Parameter: parameter, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
}
