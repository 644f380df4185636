package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"blogpilot/internal/config"
	"blogpilot/internal/core"
	"blogpilot/internal/logger"
	"blogpilot/internal/pipeline"
	"blogpilot/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ArticleStore is the read side of the store the endpoints report on.
type ArticleStore interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (store.Stats, error)
	ListRecent(ctx context.Context, limit int) ([]core.ArticleRecord, error)
}

// Scanner runs one scan cycle.
type Scanner interface {
	ScanOnce(ctx context.Context) (*pipeline.CycleStats, error)
}

// QueueDepth reports pending failed-ingest records.
type QueueDepth interface {
	Len() int
}

// Options are the collaborators of a Server. Every field may be nil.
type Options struct {
	Store   ArticleStore
	Queue   QueueDepth
	Scanner Scanner
	Metrics http.Handler // defaults to the Prometheus handler
	Version string
}

// Server is the ops HTTP server: health, metrics, status and manual scans.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	opts       Options
	config     config.Server
	adminKey   string
	log        zerolog.Logger
	started    time.Time

	scanMu   sync.Mutex
	scanning bool
	lastScan *ScanSummary
	scanCtx  context.Context
}

// New creates a new HTTP server instance. Scans started over HTTP run under
// ctx so they stop with the process.
func New(ctx context.Context, cfg config.Server, adminKey string, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	s := &Server{
		router:   chi.NewRouter(),
		opts:     opts,
		config:   cfg,
		adminKey: adminKey,
		log:      logger.With("component", "server"),
		started:  time.Now(),
		scanCtx:  ctx,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(securityHeaders)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.opts.Metrics)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(noCache)
		r.Get("/status", s.handleStatus)
		r.Get("/articles/recent", s.handleRecentArticles)

		r.With(s.requireAdminAPI).Post("/scan", s.handleScan)
	})
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info().Msg("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RecordCycle remembers the last scan cycle run outside the server, so the
// status endpoint reports it.
func (s *Server) RecordCycle(stats *pipeline.CycleStats, err error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.lastScan = summarize(stats, err)
}
