package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/solharbor/airmend/internal/audit"
	"github.com/solharbor/airmend/internal/config"
	"github.com/solharbor/airmend/internal/httpapi"
	"github.com/solharbor/airmend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer st.Close()

	srv := httpapi.New(cfg, st, audit.NewService(st))
	log.Printf("REST API listening on %s", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
