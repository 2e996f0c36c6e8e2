// Package impute walks detected gaps in time order and fills short/medium
// runs through the Model Store contract, writing every accepted prediction
// atomically with its audit event.
package impute

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/solharbor/airmend/internal/config"
	"github.com/solharbor/airmend/internal/models"
	"github.com/solharbor/airmend/internal/modelstore"
)

// negativeTolerance is the zero-floor clamp band: predictions in
// (-negativeTolerance, 0) are regression noise and clamp to 0; anything at or
// below it is rejected as physically impossible.
const negativeTolerance = 0.05

// HourState is the terminal state of one missing hour within a gap.
type HourState string

const (
	HourImputed HourState = "imputed"
	HourSkipped HourState = "skipped"
	// HourAlreadyImputed marks the idempotent no-op path: the hour was
	// imputed by a previous run and no force flag was given.
	HourAlreadyImputed HourState = "already_imputed"
)

// GapState is the terminal state of a gap for this run.
type GapState string

const (
	GapUnresolved GapState = "unresolved"
	GapImputed    GapState = "imputed"
	GapSkipped    GapState = "skipped"
	GapFlagged    GapState = "flagged"
)

// Skip reasons recorded on hour outcomes.
const (
	ReasonInsufficientContext = "insufficient_context"
	ReasonModelUnavailable    = "model_unavailable"
	ReasonNegativePrediction  = "negative_prediction"
)

// HourOutcome records what happened to one missing hour.
type HourOutcome struct {
	TS     time.Time
	State  HourState
	Reason string
	Value  *float64
}

// GapResult is the outcome of processing one gap.
type GapResult struct {
	Gap   models.Gap
	State GapState
	Hours []HourOutcome
}

// Counts folds the result into run statistics.
func (r GapResult) Counts() models.RunCounts {
	var c models.RunCounts
	if r.State == GapFlagged {
		c.Flagged = r.Gap.Hours
		return c
	}
	for _, h := range r.Hours {
		switch h.State {
		case HourImputed:
			c.Imputed++
		case HourSkipped:
			c.Skipped++
		}
	}
	return c
}

// Writer is the narrow persistence port the orchestrator needs.
type Writer interface {
	ApplyImputation(ctx context.Context, ev models.ImputationEvent) error
}

// Options tune a single pass.
type Options struct {
	// Policy controls whether hours imputed earlier in this same pass count
	// as window context for later hours.
	Policy config.ContextPolicy
	// Force reprocesses hours that are already imputed. Without it such hours
	// are strict no-ops: no new event, no value change.
	Force bool
}

// Orchestrator fills gaps for one station and parameter at a time. Gap
// processing is strictly sequential in time order because later predictions
// may depend on earlier imputed context.
type Orchestrator struct {
	predictor modelstore.Client
	writer    Writer
	opts      Options
}

// New builds an Orchestrator.
func New(predictor modelstore.Client, writer Writer, opts Options) *Orchestrator {
	if opts.Policy == "" {
		opts.Policy = config.ContextIncludeImputed
	}
	return &Orchestrator{predictor: predictor, writer: writer, opts: opts}
}

// ProcessGap drives the per-gap state machine. Long gaps are flagged and
// never imputed. Per-hour failures (insufficient context, model unavailable,
// negative prediction) are recorded as skips and never abort the gap; a
// persistence failure or cancellation aborts immediately with the partial
// result.
func (o *Orchestrator) ProcessGap(ctx context.Context, series *Series, gap models.Gap) (GapResult, error) {
	result := GapResult{Gap: gap, State: GapUnresolved}

	if gap.Class == models.GapLong {
		result.State = GapFlagged
		log.Printf("impute: flagged long gap station=%s parameter=%s start=%s hours=%d",
			gap.StationID, gap.Parameter, gap.Start.Format(time.RFC3339), gap.Hours)
		return result, nil
	}

	for ts := gap.Start; !ts.After(gap.End); ts = ts.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			result.State = o.finalState(result)
			return result, err
		}

		outcome, err := o.processHour(ctx, series, gap, ts)
		result.Hours = append(result.Hours, outcome)
		if err != nil {
			result.State = o.finalState(result)
			return result, err
		}
	}

	result.State = o.finalState(result)
	return result, nil
}

func (o *Orchestrator) processHour(ctx context.Context, series *Series, gap models.Gap, ts time.Time) (HourOutcome, error) {
	if s := series.at(ts); s != nil && s.imputed && s.value != nil && !o.opts.Force {
		return HourOutcome{TS: ts, State: HourAlreadyImputed}, nil
	}

	window, valid := o.window(series, ts)
	if valid < modelstore.WindowHours {
		log.Printf("impute: skip %v", &models.InsufficientContextError{
			StationID: gap.StationID, Parameter: gap.Parameter, TS: ts, Valid: valid,
		})
		return HourOutcome{TS: ts, State: HourSkipped, Reason: ReasonInsufficientContext}, nil
	}

	pred, err := o.predictor.Predict(ctx, gap.StationID, gap.Parameter, window)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return HourOutcome{TS: ts, State: HourSkipped, Reason: ReasonModelUnavailable}, ctxErr
		}
		var unavailable *models.ModelUnavailableError
		if !errors.As(err, &unavailable) {
			err = &models.ModelUnavailableError{StationID: gap.StationID, Parameter: gap.Parameter, Err: err}
		}
		log.Printf("impute: skip %v", err)
		return HourOutcome{TS: ts, State: HourSkipped, Reason: ReasonModelUnavailable}, nil
	}

	value := pred.Value
	if value < 0 {
		if value <= -negativeTolerance {
			log.Printf("impute: skip %v", &models.NegativePredictionError{
				StationID: gap.StationID, Parameter: gap.Parameter, TS: ts, Value: value,
			})
			return HourOutcome{TS: ts, State: HourSkipped, Reason: ReasonNegativePrediction}, nil
		}
		value = 0
	}

	ev := models.ImputationEvent{
		StationID:    gap.StationID,
		TS:           ts,
		Parameter:    gap.Parameter,
		Value:        value,
		WindowStart:  ts.Add(-modelstore.WindowHours * time.Hour),
		WindowEnd:    ts.Add(-time.Hour),
		ModelVersion: pred.ModelVersion,
		Confidence:   pred.Confidence,
	}
	if err := o.writer.ApplyImputation(ctx, ev); err != nil {
		return HourOutcome{TS: ts, State: HourSkipped, Reason: "persistence"}, err
	}

	series.setImputed(ts, value)
	v := value
	return HourOutcome{TS: ts, State: HourImputed, Value: &v}, nil
}

// window collects the values of the WindowHours hours immediately preceding
// ts, oldest first, and reports how many are valid context under the policy.
func (o *Orchestrator) window(series *Series, ts time.Time) ([]float64, int) {
	window := make([]float64, 0, modelstore.WindowHours)
	valid := 0
	for i := modelstore.WindowHours; i >= 1; i-- {
		s := series.at(ts.Add(-time.Duration(i) * time.Hour))
		if s == nil || s.value == nil {
			continue
		}
		if s.samePass && o.opts.Policy == config.ContextMeasuredOnly {
			continue
		}
		window = append(window, *s.value)
		valid++
	}
	return window, valid
}

func (o *Orchestrator) finalState(r GapResult) GapState {
	imputed, skipped := 0, 0
	for _, h := range r.Hours {
		switch h.State {
		case HourImputed:
			imputed++
		case HourSkipped:
			skipped++
		}
	}
	switch {
	case skipped == 0:
		// Everything pending was written (or was already imputed).
		return GapImputed
	case imputed > 0:
		return GapImputed
	default:
		return GapSkipped
	}
}
