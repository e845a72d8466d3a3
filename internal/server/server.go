// Package server provides the HTTP server and routing for the dashboard
// backend.
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

	"github.com/fxlens/fxlens/internal/analysis"
	"github.com/fxlens/fxlens/internal/config"
	"github.com/fxlens/fxlens/internal/events"
	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/ratelimit"
	"github.com/fxlens/fxlens/internal/reliability"
	"github.com/fxlens/fxlens/internal/resolve"
)

// Config holds server wiring.
type Config struct {
	Log          zerolog.Logger
	Cfg          *config.Config
	Orchestrator *resolve.Orchestrator
	Signals      *analysis.Service
	Analyzer     *analysis.Analyzer
	Scorer       *health.Scorer
	Emergency    *health.EmergencyMode
	Tracker      *ratelimit.Tracker
	Bus          *events.Bus
	Backup       *reliability.BackupService // nil when backup is not configured
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	marketHandlers *MarketHandlers
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
	wsStream       *WSStreamHandler
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Cfg,
		marketHandlers: NewMarketHandlers(cfg.Orchestrator, cfg.Signals, cfg.Analyzer, cfg.Cfg, cfg.Log),
		systemHandlers: NewSystemHandlers(cfg.Scorer, cfg.Tracker, cfg.Emergency, cfg.Backup, cfg.Log),
		eventsStream:   NewEventsStreamHandler(cfg.Bus, cfg.Log),
		wsStream:       NewWSStreamHandler(cfg.Bus, cfg.Log),
	}

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own lifetimes
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the chi mux for tests.
func (s *Server) Router() http.Handler { return s.router }

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleLiveness)

	s.router.Route("/api", func(r chi.Router) {
		// Streaming endpoints sit outside the request timeout.
		r.Get("/events/stream", s.eventsStream.ServeHTTP)
		r.Get("/ws", s.wsStream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/forex", func(r chi.Router) {
				r.Get("/pairs", s.marketHandlers.HandlePairs)
				r.Get("/data/{pair}", s.marketHandlers.HandlePairData)
			})

			r.Route("/analysis", func(r chi.Router) {
				r.Get("/technical/{pair}", s.marketHandlers.HandleTechnical)
			})

			r.Route("/signals", func(r chi.Router) {
				r.Get("/", s.marketHandlers.HandleAllSignals)
				r.Get("/{pair}", s.marketHandlers.HandlePairSignals)
			})

			r.Route("/system", func(r chi.Router) {
				r.Get("/health", s.systemHandlers.HandleHealth)
				r.Get("/rate-limits", s.systemHandlers.HandleRateLimits)
				r.Get("/emergency", s.systemHandlers.HandleEmergencyStatus)
				r.Post("/emergency", s.systemHandlers.HandleEmergencyActivate)
				r.Post("/emergency/reset", s.systemHandlers.HandleEmergencyReset)
				r.Get("/backups", s.systemHandlers.HandleListBackups)
				r.Post("/backups", s.systemHandlers.HandleTriggerBackup)
			})
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests.
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
