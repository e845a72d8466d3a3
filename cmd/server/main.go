// Package main is the entry point for the fxlens forex dashboard backend.
// It serves cached market data, technical analysis, and trading signals
// over a REST and streaming API while keeping upstream API usage inside
// the free-tier quotas of every provider.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fxlens/fxlens/internal/analysis"
	"github.com/fxlens/fxlens/internal/config"
	"github.com/fxlens/fxlens/internal/database"
	"github.com/fxlens/fxlens/internal/events"
	"github.com/fxlens/fxlens/internal/fetch"
	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/marketcache"
	"github.com/fxlens/fxlens/internal/providers"
	"github.com/fxlens/fxlens/internal/ratelimit"
	"github.com/fxlens/fxlens/internal/refresh"
	"github.com/fxlens/fxlens/internal/reliability"
	"github.com/fxlens/fxlens/internal/resolve"
	"github.com/fxlens/fxlens/internal/server"
	"github.com/fxlens/fxlens/pkg/logger"
)

// signalsTimeframe is the timeframe the background refresh computes
// signals for. Other timeframes are computed on demand.
const signalsTimeframe = "1h"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Service: "fxlens", Pretty: logger.PrettyFromEnv()})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Service: "fxlens",
		Pretty:  cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting fxlens")

	// Cache database. Everything served by the API lives here; losing it
	// only costs warm-up time, so the cache profile trades durability for
	// speed.
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "market_cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer db.Close()

	repo := marketcache.NewRepository(db.Conn())
	if err := repo.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache schema")
	}

	// Quota tracking, health scoring, and the emergency switch.
	quotas := make(map[string]ratelimit.Quota, len(cfg.Providers))
	settings := make(map[string]fetch.ProviderSettings, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		quotas[name] = ratelimit.Quota{
			Limit:      pc.Limit,
			Period:     pc.Period,
			DailyCap:   pc.DailyCap,
			MinSpacing: pc.MinSpacing,
		}
		settings[name] = fetch.ProviderSettings{
			CallTimeout: pc.CallTimeout,
			MaxInFlight: pc.MaxInFlight,
		}
	}
	tracker := ratelimit.NewTracker(quotas, log)
	scorer := health.NewScorer(tracker, health.Weights{
		Quota:            cfg.Health.QuotaWeight,
		Error:            cfg.Health.ErrorWeight,
		Latency:          cfg.Health.LatencyWeight,
		LatencyThreshold: cfg.Health.LatencyThreshold,
	}, log)

	bus := events.NewBus(log)
	emergency := health.NewEmergencyMode(log)
	emergency.OnChange(func(active bool, reason string) {
		bus.Emit(events.EmergencyModeChanged, "health", events.EmergencyModeChangedData{
			Active: active,
			Reason: reason,
		})
	})

	// Provider adapters and the fetch pipeline.
	adapters := []providers.Adapter{
		providers.NewYahoo(log),
		providers.NewAlphaVantage(cfg.AlphaVantageKey, log),
		providers.NewExchangeRateAPI(log),
		providers.NewExchangeRateHost(log),
		providers.NewFawaz(log),
	}
	fetcher := fetch.New(adapters, tracker, repo, scorer, cfg.TTL, settings, log)

	orch := resolve.New(fetcher, repo, providers.NewSynthetic(log), scorer, resolve.Options{
		Priority:   cfg.Priority,
		ServeStale: cfg.ServeStale,
		TTLs:       cfg.TTL,
	}, log)

	analyzer := analysis.NewAnalyzer(log)
	signals := analysis.NewService(orch, repo, analyzer, cfg.TTL[market.KindSignals], log)

	// Backup is optional; the service stays nil without credentials and
	// the backup endpoints report not-configured.
	var backupService *reliability.BackupService
	if cfg.Backup.Configured() {
		store, err := reliability.NewS3Client(cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup storage client")
		}
		backupService = reliability.NewBackupService(store, db, cfg.DataDir, log)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Backup service enabled")
	} else {
		log.Info().Msg("Backup credentials not set, backups disabled")
	}

	// Background jobs.
	scheduler := refresh.NewScheduler(log)
	jobs := []struct {
		schedule string
		job      refresh.Job
	}{
		{fmt.Sprintf("@every %s", cfg.PriceRefreshInterval),
			refresh.NewPriceRefreshJob(orch, bus, cfg.Pairs, cfg.CorePairs, emergency, log)},
		{fmt.Sprintf("@every %s", cfg.SignalRefreshInterval),
			refresh.NewSignalsRefreshJob(signals, bus, signalsTimeframe, cfg.Pairs, cfg.CorePairs, emergency, log)},
		{"@every 30s", refresh.NewHealthPushJob(scorer, tracker, bus, log)},
		{"0 0 4 * * *", marketcache.NewCleanupJob(repo, log)},
	}
	if backupService != nil {
		jobs = append(jobs, struct {
			schedule string
			job      refresh.Job
		}{"0 0 3 * * *", reliability.NewBackupJob(backupService, bus, cfg.Backup.RetentionDays, log)})
	}
	for _, j := range jobs {
		if err := scheduler.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
	scheduler.Start()

	srv := server.New(server.Config{
		Log:          log,
		Cfg:          cfg,
		Orchestrator: orch,
		Signals:      signals,
		Analyzer:     analyzer,
		Scorer:       scorer,
		Emergency:    emergency,
		Tracker:      tracker,
		Bus:          bus,
		Backup:       backupService,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}
