// Package server provides the HTTP server and routing for Moneta.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/config"
	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/modules/accounts"
	accountshandlers "github.com/aristath/moneta/internal/modules/accounts/handlers"
	"github.com/aristath/moneta/internal/modules/activities"
	activitieshandlers "github.com/aristath/moneta/internal/modules/activities/handlers"
	"github.com/aristath/moneta/internal/modules/allocation"
	"github.com/aristath/moneta/internal/modules/lots"
	"github.com/aristath/moneta/internal/modules/preferences"
	preferenceshandlers "github.com/aristath/moneta/internal/modules/preferences/handlers"
	"github.com/aristath/moneta/internal/modules/returns"
	returnshandlers "github.com/aristath/moneta/internal/modules/returns/handlers"
	"github.com/aristath/moneta/internal/modules/securities"
	securitieshandlers "github.com/aristath/moneta/internal/modules/securities/handlers"
	syncmod "github.com/aristath/moneta/internal/modules/sync"
	synchandlers "github.com/aristath/moneta/internal/modules/sync/handlers"
	"github.com/aristath/moneta/internal/modules/valuation"
	valuationhandlers "github.com/aristath/moneta/internal/modules/valuation/handlers"
	"github.com/aristath/moneta/internal/providers"
	providershandlers "github.com/aristath/moneta/internal/providers/handlers"
)

// Config holds everything the HTTP layer needs. The server owns no
// business logic; it wires handlers over the services built in main.
type Config struct {
	Log zerolog.Logger
	Cfg *config.Config
	DB  *database.DB

	Orchestrator      *syncmod.Orchestrator
	SyncRepo          *syncmod.Repository
	AccountsService   *accounts.Service
	AccountsRepo      *accounts.Repository
	ActivitiesService *activities.Service
	ActivitiesRepo    *activities.Repository
	SecuritiesRepo    *securities.Repository
	AllocationService *allocation.Service
	ValuationService  *valuation.Service
	ValuationRepo     *valuation.Repository
	LotsRepo          *lots.Repository
	ReturnsService    *returns.Service
	PreferencesRepo   *preferences.Repository
	Providers         *providers.Registry
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    *config.Config

	syncHandlers        *synchandlers.Handler
	accountsHandlers    *accountshandlers.Handler
	activitiesHandlers  *activitieshandlers.Handler
	returnsHandlers     *returnshandlers.Handler
	valuationHandlers   *valuationhandlers.Handler
	securitiesHandlers  *securitieshandlers.Handler
	preferencesHandlers *preferenceshandlers.Handler
	providersHandlers   *providershandlers.Handler
	systemHandlers      *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg.Cfg,

		syncHandlers: synchandlers.NewHandler(cfg.Orchestrator, cfg.SyncRepo, cfg.Log),
		accountsHandlers: accountshandlers.NewHandler(
			cfg.AccountsService,
			cfg.AccountsRepo,
			cfg.ActivitiesService,
			cfg.ActivitiesRepo,
			cfg.SecuritiesRepo,
			cfg.ValuationRepo,
			cfg.LotsRepo,
			cfg.Cfg.Location,
			cfg.Log,
		),
		activitiesHandlers:  activitieshandlers.NewHandler(cfg.ActivitiesService, cfg.Cfg.Location, cfg.Log),
		returnsHandlers:     returnshandlers.NewHandler(cfg.ReturnsService, cfg.Log),
		valuationHandlers:   valuationhandlers.NewHandler(cfg.ValuationService, cfg.Log),
		securitiesHandlers:  securitieshandlers.NewHandler(cfg.SecuritiesRepo, cfg.AllocationService, cfg.Log),
		preferencesHandlers: preferenceshandlers.NewHandler(cfg.PreferencesRepo, cfg.Log),
		providersHandlers:   providershandlers.NewHandler(cfg.Providers, cfg.Log),
		systemHandlers:      NewSystemHandlers(cfg.Log, cfg.Cfg.DataDir, cfg.DB),
	}

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// A full sync can legitimately take minutes against slow providers.
	s.router.Use(middleware.Timeout(10 * time.Minute))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		s.syncHandlers.RegisterRoutes(r)
		s.accountsHandlers.RegisterRoutes(r)
		s.activitiesHandlers.RegisterRoutes(r)
		s.returnsHandlers.RegisterRoutes(r)
		s.valuationHandlers.RegisterRoutes(r)
		s.securitiesHandlers.RegisterRoutes(r)
		s.preferencesHandlers.RegisterRoutes(r)
		s.providersHandlers.RegisterRoutes(r)

		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
