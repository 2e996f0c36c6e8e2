package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solharbor/airmend/internal/models"
)

func fptr(v float64) *float64 { return &v }

func hour(h int) time.Time {
	return time.Date(2025, 3, 1, h, 0, 0, 0, time.UTC)
}

func TestHourlySeries_OneReadingPerHour(t *testing.T) {
	raw := []models.RawReading{
		{TS: hour(1), Value: fptr(10)},
		{TS: hour(4), Value: fptr(12)},
	}

	series, err := HourlySeries("st1", "pm25", hour(0), hour(6), raw, nil)
	require.NoError(t, err)
	require.Len(t, series, 6)

	for i, r := range series {
		assert.Equal(t, hour(i), r.TS, "hour %d", i)
		assert.Equal(t, "st1", r.StationID)
		assert.Equal(t, "pm25", r.Parameter)
		assert.False(t, r.Imputed)
	}

	assert.Nil(t, series[0].Value)
	require.NotNil(t, series[1].Value)
	assert.Equal(t, 10.0, *series[1].Value)
	assert.Nil(t, series[2].Value)
	assert.Nil(t, series[3].Value)
	require.NotNil(t, series[4].Value)
	assert.Equal(t, 12.0, *series[4].Value)
	assert.Nil(t, series[5].Value)
}

func TestHourlySeries_DuplicatesResolveToLatestWrite(t *testing.T) {
	raw := []models.RawReading{
		{TS: hour(2), Value: fptr(5)},
		{TS: hour(2), Value: fptr(7)},
	}

	series, err := HourlySeries("st1", "pm25", hour(0), hour(3), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, series[2].Value)
	assert.Equal(t, 7.0, *series[2].Value)
}

func TestHourlySeries_SubHourTimestampsFloorToHour(t *testing.T) {
	ts := hour(3).Add(25 * time.Minute)
	series, err := HourlySeries("st1", "pm25", hour(0), hour(5), []models.RawReading{{TS: ts, Value: fptr(3)}}, nil)
	require.NoError(t, err)
	require.NotNil(t, series[3].Value)
	assert.Equal(t, 3.0, *series[3].Value)
}

func TestHourlySeries_NullRefetchKeepsImputedValue(t *testing.T) {
	mv := "v3"
	existing := []models.Reading{
		{StationID: "st1", TS: hour(2), Parameter: "pm25", Value: fptr(8), Imputed: true, ModelVersion: &mv},
	}
	raw := []models.RawReading{{TS: hour(2), Value: nil}}

	series, err := HourlySeries("st1", "pm25", hour(0), hour(4), raw, existing)
	require.NoError(t, err)

	r := series[2]
	require.NotNil(t, r.Value)
	assert.Equal(t, 8.0, *r.Value)
	assert.True(t, r.Imputed)
	require.NotNil(t, r.ModelVersion)
	assert.Equal(t, "v3", *r.ModelVersion)
}

func TestHourlySeries_MeasuredRefetchReplacesImputed(t *testing.T) {
	mv := "v3"
	existing := []models.Reading{
		{StationID: "st1", TS: hour(2), Parameter: "pm25", Value: fptr(8), Imputed: true, ModelVersion: &mv},
	}
	raw := []models.RawReading{{TS: hour(2), Value: fptr(9.5)}}

	series, err := HourlySeries("st1", "pm25", hour(0), hour(4), raw, existing)
	require.NoError(t, err)

	r := series[2]
	require.NotNil(t, r.Value)
	assert.Equal(t, 9.5, *r.Value)
	assert.False(t, r.Imputed)
	assert.Nil(t, r.ModelVersion)
}

func TestHourlySeries_OutOfRangeTimestampFails(t *testing.T) {
	raw := []models.RawReading{{TS: hour(10), Value: fptr(1)}}

	_, err := HourlySeries("st1", "pm25", hour(0), hour(6), raw, nil)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "st1", verr.StationID)
}

func TestHourlySeries_ZeroTimestampFails(t *testing.T) {
	raw := []models.RawReading{{Value: fptr(1)}}

	_, err := HourlySeries("st1", "pm25", hour(0), hour(6), raw, nil)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestHourlySeries_EmptyRangeFails(t *testing.T) {
	_, err := HourlySeries("st1", "pm25", hour(6), hour(6), nil, nil)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}
