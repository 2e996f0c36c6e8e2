// Package gaps finds maximal missing-value runs in a normalized hourly series
// and classifies them by length.
package gaps

import (
	"time"

	"github.com/solharbor/airmend/internal/models"
)

const (
	// ShortMaxHours is the inclusive upper bound of the short class.
	ShortMaxHours = 3
	// MediumMaxHours is the inclusive upper bound of the medium class. Longer
	// runs are flagged only and never imputed.
	MediumMaxHours = 24
)

// Classify maps a run length in hours to its gap class.
func Classify(hours int) models.GapClass {
	switch {
	case hours <= ShortMaxHours:
		return models.GapShort
	case hours <= MediumMaxHours:
		return models.GapMedium
	default:
		return models.GapLong
	}
}

// Detect scans a chronologically ordered series for one station and parameter
// and returns its maximal null runs in time order. A run still open at the end
// of the range is closed there.
func Detect(series []models.Reading) []models.Gap {
	var out []models.Gap
	var runStart time.Time
	runHours := 0

	closeRun := func(end time.Time) {
		if runHours == 0 {
			return
		}
		out = append(out, models.Gap{
			StationID: series[0].StationID,
			Parameter: series[0].Parameter,
			Start:     runStart,
			End:       end,
			Hours:     runHours,
			Class:     Classify(runHours),
		})
		runHours = 0
	}

	for _, r := range series {
		if r.Value == nil {
			if runHours == 0 {
				runStart = r.TS
			}
			runHours++
			continue
		}
		closeRun(r.TS.Add(-time.Hour))
	}
	if runHours > 0 {
		closeRun(series[len(series)-1].TS)
	}

	return out
}

// MissingHours counts null slots in a series.
func MissingHours(series []models.Reading) int {
	n := 0
	for _, r := range series {
		if r.Value == nil {
			n++
		}
	}
	return n
}
