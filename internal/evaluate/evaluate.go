// Package evaluate masks known values out of historical series, runs the same
// imputation orchestrator over the holes, and scores predictions against the
// ground truth and two baselines. The gate only reports; promotion of a model
// version is an operator action.
package evaluate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/solharbor/airmend/internal/config"
	"github.com/solharbor/airmend/internal/gaps"
	"github.com/solharbor/airmend/internal/impute"
	"github.com/solharbor/airmend/internal/models"
	"github.com/solharbor/airmend/internal/modelstore"
	"github.com/solharbor/airmend/internal/store"
)

// Report scores one masked evaluation pass.
type Report struct {
	N         int `json:"n"`
	Skipped   int `json:"skipped"`
	Negatives int `json:"negatives"`

	ModelRMSE float64 `json:"model_rmse"`
	ModelMAE  float64 `json:"model_mae"`

	LinearRMSE float64 `json:"linear_rmse"`
	LinearMAE  float64 `json:"linear_mae"`

	FFillRMSE float64 `json:"ffill_rmse"`
	FFillMAE  float64 `json:"ffill_mae"`
}

// Pass is the promotion gate: the model must strictly beat the
// linear-interpolation baseline on RMSE and never predict negative.
func (r Report) Pass() bool {
	return r.N > 0 && r.Negatives == 0 && r.ModelRMSE < r.LinearRMSE
}

// Run nulls out the masked hours, drives the orchestrator over the resulting
// gaps, and compares its output with the withheld truth. Masked hours must
// hold a measured value in the input series.
func Run(ctx context.Context, series []models.Reading, mask []time.Time, predictor modelstore.Client, policy config.ContextPolicy) (Report, error) {
	var report Report
	if len(series) == 0 {
		return report, fmt.Errorf("empty series")
	}

	truth := make(map[int64]float64, len(mask))
	masked := make(map[int64]bool, len(mask))
	for _, ts := range mask {
		masked[ts.UTC().Truncate(time.Hour).Unix()] = true
	}

	work := make([]models.Reading, len(series))
	copy(work, series)
	for i := range work {
		k := work[i].TS.UTC().Truncate(time.Hour).Unix()
		if !masked[k] {
			continue
		}
		if work[i].Value == nil {
			return report, fmt.Errorf("masked hour %s has no ground truth", work[i].TS.Format(time.RFC3339))
		}
		truth[k] = *work[i].Value
		work[i].Value = nil
		work[i].Imputed = false
		work[i].ModelVersion = nil
	}

	mem := store.NewMemory()
	if _, err := mem.UpsertReadings(ctx, work); err != nil {
		return report, err
	}

	imputeSeries := impute.NewSeries(work)
	orch := impute.New(predictor, mem, impute.Options{Policy: policy})
	for _, g := range gaps.Detect(work) {
		if _, err := orch.ProcessGap(ctx, imputeSeries, g); err != nil {
			return report, err
		}
	}

	after, err := mem.Series(ctx, work[0].StationID, work[0].Parameter,
		work[0].TS, work[len(work)-1].TS.Add(time.Hour))
	if err != nil {
		return report, err
	}
	predicted := make(map[int64]float64)
	for _, r := range after {
		k := r.TS.UTC().Unix()
		if masked[k] && r.Imputed && r.Value != nil {
			predicted[k] = *r.Value
		}
	}

	var modelErrs, linearErrs, ffillErrs []float64
	for _, ts := range mask {
		k := ts.UTC().Truncate(time.Hour).Unix()
		want := truth[k]

		got, ok := predicted[k]
		if !ok {
			report.Skipped++
			continue
		}
		if got < 0 {
			report.Negatives++
		}

		lin, linOK := linearInterpolate(work, ts)
		ff, ffOK := forwardFill(work, ts)
		if !linOK || !ffOK {
			// Baselines undefined at the series edge; not comparable.
			report.Skipped++
			continue
		}

		modelErrs = append(modelErrs, got-want)
		linearErrs = append(linearErrs, lin-want)
		ffillErrs = append(ffillErrs, ff-want)
	}

	report.N = len(modelErrs)
	report.ModelRMSE, report.ModelMAE = metrics(modelErrs)
	report.LinearRMSE, report.LinearMAE = metrics(linearErrs)
	report.FFillRMSE, report.FFillMAE = metrics(ffillErrs)
	return report, nil
}

func metrics(errs []float64) (rmse, mae float64) {
	if len(errs) == 0 {
		return 0, 0
	}
	var sq, abs float64
	for _, e := range errs {
		sq += e * e
		abs += math.Abs(e)
	}
	n := float64(len(errs))
	return math.Sqrt(sq / n), abs / n
}

// linearInterpolate draws a line between the nearest non-null neighbors of ts
// in the masked series.
func linearInterpolate(series []models.Reading, ts time.Time) (float64, bool) {
	ts = ts.UTC().Truncate(time.Hour)
	var before, after *models.Reading
	for i := range series {
		r := &series[i]
		if r.Value == nil {
			continue
		}
		if r.TS.Before(ts) {
			before = r
		} else if r.TS.After(ts) {
			after = r
			break
		}
	}
	if before == nil || after == nil {
		return 0, false
	}
	span := after.TS.Sub(before.TS).Hours()
	frac := ts.Sub(before.TS).Hours() / span
	return *before.Value + frac*(*after.Value-*before.Value), true
}

// forwardFill carries the last non-null value before ts.
func forwardFill(series []models.Reading, ts time.Time) (float64, bool) {
	ts = ts.UTC().Truncate(time.Hour)
	var last *models.Reading
	for i := range series {
		r := &series[i]
		if r.TS.Before(ts) && r.Value != nil {
			last = r
		}
		if !r.TS.Before(ts) {
			break
		}
	}
	if last == nil {
		return 0, false
	}
	return *last.Value, true
}
