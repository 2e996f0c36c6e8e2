package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/solharbor/airmend/internal/config"
	"github.com/solharbor/airmend/internal/modelstore"
	"github.com/solharbor/airmend/internal/pipeline"
	"github.com/solharbor/airmend/internal/run"
	"github.com/solharbor/airmend/internal/scheduler"
	"github.com/solharbor/airmend/internal/sourceapi"
	"github.com/solharbor/airmend/internal/store"
)

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("ingestd failed: %v", err)
	}
}

func runMain() error {
	once := flag.Bool("once", false, "run a single batch pass and exit")
	startFlag := flag.String("start", "", "batch range start (RFC3339, -once only)")
	endFlag := flag.String("end", "", "batch range end (RFC3339, -once only)")
	stationsFlag := flag.String("stations", "", "comma-separated station ids (default: all)")
	force := flag.Bool("force", false, "reimpute hours that are already imputed")
	dryRun := flag.Bool("dry-run", false, "report gaps without writing readings or imputations")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if cfg.SourceAPIURL == "" {
		return errors.New("SOURCE_API_URL is required")
	}
	if cfg.ModelStoreURL == "" {
		return errors.New("MODEL_STORE_URL is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	source := sourceapi.New(cfg.SourceAPIURL, cfg.RequestTimeout, cfg.MaxFetchSpan)
	model := modelstore.NewHTTP(cfg.ModelStoreURL, cfg.PredictTimeout)
	p := pipeline.New(cfg, source, model, st)

	if _, err := p.Tracker().Recover(ctx); err != nil {
		return err
	}

	if *once {
		scope, err := batchScope(cfg, *startFlag, *endFlag, *stationsFlag)
		if err != nil {
			return err
		}
		runRec, err := p.Execute(ctx, scope, *force)
		if runRec != nil {
			log.Printf("run %s finished with status %s", runRec.ID, runRec.Status)
		}
		return err
	}

	sched := scheduler.New(p, cfg.ScheduleEvery, cfg.BackfillHours, cfg.Parameters)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	log.Printf("ingestd scheduled every %s (backfill %dh, %d parameter(s))",
		cfg.ScheduleEvery, cfg.BackfillHours, len(cfg.Parameters))
	<-ctx.Done()
	return nil
}

func batchScope(cfg config.Config, startStr, endStr, stationsStr string) (run.Scope, error) {
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-time.Duration(cfg.BackfillHours) * time.Hour)

	if startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return run.Scope{}, err
		}
		start = t.UTC()
	}
	if endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return run.Scope{}, err
		}
		end = t.UTC()
	}

	scope := run.Scope{Parameters: cfg.Parameters, Start: start, End: end}
	if stationsStr != "" {
		for _, id := range strings.Split(stationsStr, ",") {
			if id = strings.TrimSpace(id); id != "" {
				scope.StationIDs = append(scope.StationIDs, id)
			}
		}
	}
	return scope, nil
}
