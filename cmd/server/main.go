// Package main is the entry point for Moneta, a personal
// investment-portfolio aggregator. It pulls accounts, holdings, and
// activities from linked providers, reconciles them into daily valuations
// and FIFO lots, and serves the read API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/moneta/internal/clients/marketdata"
	"github.com/aristath/moneta/internal/clients/simplefin"
	"github.com/aristath/moneta/internal/clients/snaptrade"
	"github.com/aristath/moneta/internal/config"
	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/activities"
	"github.com/aristath/moneta/internal/modules/allocation"
	"github.com/aristath/moneta/internal/modules/lots"
	"github.com/aristath/moneta/internal/modules/preferences"
	"github.com/aristath/moneta/internal/modules/returns"
	"github.com/aristath/moneta/internal/modules/securities"
	"github.com/aristath/moneta/internal/modules/snapshots"
	syncmod "github.com/aristath/moneta/internal/modules/sync"
	"github.com/aristath/moneta/internal/modules/valuation"
	"github.com/aristath/moneta/internal/providers"
	"github.com/aristath/moneta/internal/scheduler"
	"github.com/aristath/moneta/internal/server"
	"github.com/aristath/moneta/pkg/logger"
)

// valuationSchedule runs the incremental backfill shortly before the sync
// window so yesterday's closes are in place even without a sync.
const valuationSchedule = "0 0 5 * * *"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Moneta")

	db, err := database.New(database.Config{Path: cfg.DatabasePath, Name: "moneta"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Repositories
	conn := db.Conn()
	accountsRepo := accounts.NewRepository(conn, log)
	securitiesRepo := securities.NewRepository(conn, log)
	snapshotsRepo := snapshots.NewRepository(conn, log)
	activitiesRepo := activities.NewRepository(conn, log)
	dhvRepo := valuation.NewRepository(conn, log)
	lotsRepo := lots.NewRepository(conn, log)
	syncRepo := syncmod.NewRepository(conn, log)
	preferencesRepo := preferences.NewRepository(conn, log)

	// Provider adapters register only when configured.
	registry := providers.NewRegistry(conn, log)
	if cfg.SnapTradeClientID != "" && cfg.SnapTradeConsumerKey != "" && cfg.SnapTradeUserID != "" {
		adapter := snaptrade.NewAdapter(cfg.SnapTradeClientID, cfg.SnapTradeConsumerKey,
			cfg.SnapTradeUserID, cfg.SnapTradeUserSecret, log)
		if err := registry.Register(adapter); err != nil {
			log.Fatal().Err(err).Msg("Failed to register SnapTrade provider")
		}
	}
	if cfg.SimpleFINAccessURL != "" {
		if err := registry.Register(simplefin.NewAdapter(cfg.SimpleFINAccessURL, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register SimpleFIN provider")
		}
	}
	if cfg.MarketDataAPIKey == "" {
		log.Warn().Msg("MARKETDATA_API_KEY not set; valuation will fall back to snapshot prices")
	}
	marketData := marketdata.NewClient(cfg.MarketDataAPIKey, log)

	// Services
	activitiesService := activities.NewService(activitiesRepo, log)
	valuationService := valuation.NewService(db, accountsRepo, snapshotsRepo, securitiesRepo,
		dhvRepo, marketData, cfg.Location, log)
	returnsService := returns.NewService(accountsRepo, snapshotsRepo, activitiesRepo, dhvRepo,
		cfg.Location, log)
	accountsService := accounts.NewService(accountsRepo, securitiesRepo, dhvRepo, snapshotsRepo,
		syncRepo, cfg.Location, log)
	allocationService := allocation.NewService(allocation.NewRepository(conn, log), securitiesRepo, log)
	orchestrator := syncmod.NewOrchestrator(db, syncRepo, accountsRepo, snapshotsRepo,
		securitiesRepo, activitiesRepo, dhvRepo, lotsRepo, valuationService, registry,
		cfg.Location, log)

	// Background jobs
	sched := scheduler.New(cfg.Location, log)
	if cfg.SyncSchedule != "" {
		if err := sched.AddJob(cfg.SyncSchedule, scheduler.NewSyncJob(orchestrator, log)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.SyncSchedule).Msg("Invalid sync schedule")
		}
	}
	if err := sched.AddJob(valuationSchedule, scheduler.NewValuationJob(valuationService, log)); err != nil {
		log.Fatal().Err(err).Msg("Invalid valuation schedule")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log: log,
		Cfg: cfg,
		DB:  db,

		Orchestrator:      orchestrator,
		SyncRepo:          syncRepo,
		AccountsService:   accountsService,
		AccountsRepo:      accountsRepo,
		ActivitiesService: activitiesService,
		ActivitiesRepo:    activitiesRepo,
		SecuritiesRepo:    securitiesRepo,
		AllocationService: allocationService,
		ValuationService:  valuationService,
		ValuationRepo:     dhvRepo,
		LotsRepo:          lotsRepo,
		ReturnsService:    returnsService,
		PreferencesRepo:   preferencesRepo,
		Providers:         registry,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Moneta stopped")
}
