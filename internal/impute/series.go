package impute

import (
	"time"

	"github.com/solharbor/airmend/internal/models"
)

type slot struct {
	value   *float64
	imputed bool
	// samePass marks values written by this pass, so the context policy can
	// tell them apart from settled data.
	samePass bool
}

// Series is the in-memory hourly view the orchestrator reads context from and
// updates as imputations land. Build it from readings covering at least
// [gap.Start - WindowHours, gap.End].
type Series struct {
	slots map[int64]*slot
}

// NewSeries indexes a reading slice by hour.
func NewSeries(readings []models.Reading) *Series {
	s := &Series{slots: make(map[int64]*slot, len(readings))}
	for _, r := range readings {
		s.slots[r.TS.UTC().Truncate(time.Hour).Unix()] = &slot{value: r.Value, imputed: r.Imputed}
	}
	return s
}

func (s *Series) at(ts time.Time) *slot {
	return s.slots[ts.UTC().Truncate(time.Hour).Unix()]
}

func (s *Series) setImputed(ts time.Time, value float64) {
	v := value
	s.slots[ts.UTC().Truncate(time.Hour).Unix()] = &slot{value: &v, imputed: true, samePass: true}
}
