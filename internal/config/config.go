package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPredictTimeout = 10 * time.Second
	defaultScheduleEvery  = time.Hour
	defaultBackfillHours  = 72
	defaultMaxFetchSpan   = 30 * 24 * time.Hour
	defaultMaxConcurrent  = 4
	defaultParameters     = "pm25,pm10,o3,no2"
	defaultPort           = 8080
	defaultAPIDefaultDays = 7
)

// ContextPolicy controls whether hours imputed earlier in the same pass may
// serve as window context for later hours (see the per-gap ordering contract).
type ContextPolicy string

const (
	ContextIncludeImputed ContextPolicy = "include_imputed"
	ContextMeasuredOnly   ContextPolicy = "measured_only"
)

// Config holds runtime configuration for both the ingest daemon and the API.
type Config struct {
	DatabaseURL   string
	SourceAPIURL  string
	ModelStoreURL string

	Parameters []string

	RequestTimeout time.Duration
	PredictTimeout time.Duration
	MaxFetchSpan   time.Duration

	ScheduleEvery time.Duration
	BackfillHours int
	MaxConcurrent int

	ContextPolicy ContextPolicy
	DryRun        bool

	Port           int
	BearerToken    string
	APIDefaultDays int
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		RequestTimeout: defaultRequestTimeout,
		PredictTimeout: defaultPredictTimeout,
		MaxFetchSpan:   defaultMaxFetchSpan,
		ScheduleEvery:  defaultScheduleEvery,
		BackfillHours:  defaultBackfillHours,
		MaxConcurrent:  defaultMaxConcurrent,
		ContextPolicy:  ContextIncludeImputed,
		Port:           defaultPort,
		APIDefaultDays: defaultAPIDefaultDays,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	cfg.SourceAPIURL = strings.TrimSpace(os.Getenv("SOURCE_API_URL"))
	cfg.ModelStoreURL = strings.TrimSpace(os.Getenv("MODEL_STORE_URL"))

	params := strings.TrimSpace(os.Getenv("PARAMETERS"))
	if params == "" {
		params = defaultParameters
	}
	for _, p := range strings.Split(params, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.Parameters = append(cfg.Parameters, p)
		}
	}
	if len(cfg.Parameters) == 0 {
		return cfg, errors.New("PARAMETERS must name at least one parameter")
	}

	if v := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("PREDICT_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PREDICT_TIMEOUT: %w", err)
		}
		cfg.PredictTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("MAX_FETCH_SPAN_DAYS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid MAX_FETCH_SPAN_DAYS: %s", v)
		}
		cfg.MaxFetchSpan = time.Duration(n) * 24 * time.Hour
	}

	if v := strings.TrimSpace(os.Getenv("SCHEDULE_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SCHEDULE_INTERVAL: %w", err)
		}
		cfg.ScheduleEvery = d
	}

	if v := strings.TrimSpace(os.Getenv("BACKFILL_HOURS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid BACKFILL_HOURS: %s", v)
		}
		cfg.BackfillHours = n
	}

	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_STATIONS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid MAX_CONCURRENT_STATIONS: %s", v)
		}
		cfg.MaxConcurrent = n
	}

	switch policy := strings.TrimSpace(os.Getenv("IMPUTED_CONTEXT")); policy {
	case "", string(ContextIncludeImputed):
		cfg.ContextPolicy = ContextIncludeImputed
	case string(ContextMeasuredOnly):
		cfg.ContextPolicy = ContextMeasuredOnly
	default:
		return cfg, fmt.Errorf("invalid IMPUTED_CONTEXT: %s", policy)
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	}

	if daysStr := os.Getenv("API_DEFAULT_DAYS"); daysStr != "" {
		if days, err := strconv.Atoi(daysStr); err == nil && days > 0 {
			cfg.APIDefaultDays = days
		} else {
			return cfg, fmt.Errorf("invalid API_DEFAULT_DAYS: %s", daysStr)
		}
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
