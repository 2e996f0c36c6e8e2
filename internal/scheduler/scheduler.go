// Package scheduler runs the ingestion pipeline on a fixed interval.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/solharbor/airmend/internal/pipeline"
	"github.com/solharbor/airmend/internal/run"
)

// Scheduler triggers a trailing-window pipeline pass every interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	pipeline  *pipeline.Pipeline

	interval   time.Duration
	backfill   time.Duration
	parameters []string
}

// New creates a Scheduler covering the trailing backfill window each pass.
func New(p *pipeline.Pipeline, interval time.Duration, backfillHours int, parameters []string) *Scheduler {
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		pipeline:   p,
		interval:   interval,
		backfill:   time.Duration(backfillHours) * time.Hour,
		parameters: parameters,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// SingletonMode keeps a slow pass from overlapping the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		end := time.Now().UTC().Truncate(time.Hour)
		scope := run.Scope{
			Parameters: s.parameters,
			Start:      end.Add(-s.backfill),
			End:        end,
		}

		jobCtx, cancel := context.WithTimeout(ctx, s.interval)
		defer cancel()

		if _, err := s.pipeline.Execute(jobCtx, scope, false); err != nil {
			log.Printf("scheduler: pipeline pass failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
