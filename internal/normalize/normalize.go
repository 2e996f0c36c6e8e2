// Package normalize turns sparse fetched readings into a complete,
// deduplicated hourly sequence for one station and parameter.
package normalize

import (
	"fmt"
	"time"

	"github.com/solharbor/airmend/internal/models"
)

// HourlySeries produces exactly one Reading per hour in [start, end).
//
// Raw readings are floored to the hour; duplicate timestamps resolve to the
// latest write (input order). Hours with no incoming value get a null Reading
// with imputed=false. Existing readings for the range are preserved where the
// refetch brings nothing: in particular a previously imputed value is never
// replaced by null, so a missing refetch does not erase an imputed result. An
// incoming measured value always wins and clears the imputed flag.
//
// Returns a ValidationError when a raw timestamp is zero or falls outside the
// requested range.
func HourlySeries(stationID, parameter string, start, end time.Time, raw []models.RawReading, existing []models.Reading) ([]models.Reading, error) {
	start = start.UTC().Truncate(time.Hour)
	end = end.UTC().Truncate(time.Hour)
	if !end.After(start) {
		return nil, &models.ValidationError{StationID: stationID, Reason: fmt.Sprintf("empty range %s..%s", start.Format(time.RFC3339), end.Format(time.RFC3339))}
	}

	prior := make(map[time.Time]models.Reading, len(existing))
	for _, r := range existing {
		prior[r.TS.UTC().Truncate(time.Hour)] = r
	}

	// Latest write wins among duplicates.
	incoming := make(map[time.Time]*float64, len(raw))
	for _, rr := range raw {
		if rr.TS.IsZero() {
			return nil, &models.ValidationError{StationID: stationID, Reason: "reading with unparseable timestamp"}
		}
		ts := rr.TS.UTC().Truncate(time.Hour)
		if ts.Before(start) || !ts.Before(end) {
			return nil, &models.ValidationError{StationID: stationID, Reason: fmt.Sprintf("timestamp %s outside range %s..%s", ts.Format(time.RFC3339), start.Format(time.RFC3339), end.Format(time.RFC3339))}
		}
		incoming[ts] = rr.Value
	}

	hours := int(end.Sub(start) / time.Hour)
	series := make([]models.Reading, 0, hours)
	for i := 0; i < hours; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		r := models.Reading{StationID: stationID, TS: ts, Parameter: parameter}

		if prev, ok := prior[ts]; ok {
			r = prev
			r.TS = ts
		}

		if v, ok := incoming[ts]; ok && v != nil {
			val := *v
			r.Value = &val
			r.Imputed = false
			r.ModelVersion = nil
		}
		// Incoming null never erases an existing value, imputed or measured.

		series = append(series, r)
	}

	return series, nil
}
