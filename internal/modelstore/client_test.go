package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solharbor/airmend/internal/models"
)

func window24() []float64 {
	w := make([]float64, WindowHours)
	for i := range w {
		w[i] = float64(i)
	}
	return w
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predict", r.URL.Path)

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "st1", req.StationID)
		assert.Equal(t, "pm25", req.Parameter)
		assert.Len(t, req.Window, WindowHours)

		fmt.Fprint(w, `{"value":17.3,"model_version":"lstm-2025-01","confidence":0.91}`)
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, 5*time.Second)
	pred, err := c.Predict(context.Background(), "st1", "pm25", window24())
	require.NoError(t, err)
	assert.Equal(t, 17.3, pred.Value)
	assert.Equal(t, "lstm-2025-01", pred.ModelVersion)
	require.NotNil(t, pred.Confidence)
	assert.Equal(t, 0.91, *pred.Confidence)
}

func TestPredict_RejectsWrongWindowSize(t *testing.T) {
	c := NewHTTP("http://unused", 5*time.Second)
	_, err := c.Predict(context.Background(), "st1", "pm25", []float64{1, 2, 3})
	require.Error(t, err)
}

func TestPredict_MissingVersionIsModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":17.3}`)
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, 5*time.Second)
	_, err := c.Predict(context.Background(), "st1", "pm25", window24())

	var merr *models.ModelUnavailableError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "st1", merr.StationID)
}

func TestPredict_ServerErrorIsModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, 5*time.Second)
	c.backoff.InitialInterval = time.Millisecond
	_, err := c.Predict(context.Background(), "st1", "pm25", window24())

	var merr *models.ModelUnavailableError
	require.ErrorAs(t, err, &merr)
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models/st1/pm25":
			w.WriteHeader(http.StatusOK)
		case "/v1/models/st2/pm25":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, 5*time.Second)
	ctx := context.Background()

	ok, err := c.HasModel(ctx, "st1", "pm25")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasModel(ctx, "st2", "pm25")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.HasModel(ctx, "st3", "pm25")
	var merr *models.ModelUnavailableError
	require.ErrorAs(t, err, &merr)
}

func TestHasModel_RetriesTransientFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, 5*time.Second)
	c.backoff.InitialInterval = time.Millisecond

	ok, err := c.HasModel(context.Background(), "st1", "pm25")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
