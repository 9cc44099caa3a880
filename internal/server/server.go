// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it picks the storage backend from the
// config, builds the services and handlers on top of it, maps URLs to
// handlers and owns graceful shutdown.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → FrameStore (disk | s3 | memory)
//	FrameStore    → SlotService, AccountService
//	services      → handlers → chi routes
//
// This is the "composition root" pattern: all dependencies are wired in
// one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/protoface/internal/auth"
	"github.com/sakif/protoface/internal/broadcast"
	"github.com/sakif/protoface/internal/config"
	"github.com/sakif/protoface/internal/handler"
	"github.com/sakif/protoface/internal/middleware"
	"github.com/sakif/protoface/internal/repository"
	"github.com/sakif/protoface/internal/repository/disk"
	"github.com/sakif/protoface/internal/repository/memory"
	"github.com/sakif/protoface/internal/repository/s3store"
	"github.com/sakif/protoface/internal/service"
)

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  repository.FrameStore
	hub    *broadcast.Hub
	sync   *handler.SyncHandler
}

// OpenStore builds the frame store selected by cfg.Storage.Backend.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (repository.FrameStore, error) {
	switch cfg.Backend {
	case config.BackendFS:
		return disk.New(cfg.DataRoot)
	case config.BackendS3:
		return s3store.New(ctx, cfg.S3)
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// New creates a Server with the store selected by cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(context.Background(), cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	return NewWithStore(cfg, store, logger), nil
}

// NewWithStore creates a Server over an existing store. Tests use it to seed
// the store directly.
func NewWithStore(cfg *config.Config, store repository.FrameStore, logger *slog.Logger) *Server {
	hub := broadcast.NewHub()
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
		hub:    hub,
		sync:   handler.NewSyncHandler(hub, cfg.Sync.Buffer, logger),
	}
	s.sync.Channel = cfg.Sync.Channel
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close disconnects sync surfaces and stops the hub.
func (s *Server) Close() {
	s.sync.Close()
	_ = s.hub.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /                         → redirect to /public/index.html
//	GET    /left-face, /right-face   → face display pages
//	GET    /control                  → control panel page
//	GET    /public/*                 → static assets (one week cache)
//	GET    /data/{user}/{slot}/{name} → frame bytes (HEAD too)
//	POST   /api/login                → set identity cookie
//	POST   /api/logout               → clear identity cookie
//	GET    /api/whoami               → current identity or null
//	GET    /api/expressions/{slot}   → list frames        [cookie]
//	DELETE /api/expressions/{slot}   → clear slot         [cookie]
//	POST   /api/upload/{slot}        → multipart upload   [cookie]
//	GET    /api/sync/{channel}       → WebSocket relay    [cookie]
//	GET    /api/sync                 → relay on the configured channel
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID - assigns unique ID to each request (for tracing)
// 2. RealIP - extracts real client IP from proxy headers
// 3. Recoverer - catches panics and returns 500 instead of crashing
// 4. Logger - logs each request with timing info
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	slots := service.NewSlotService(s.store, service.Limits{
		MaxFiles:    s.config.Upload.MaxFiles,
		MaxFileSize: s.config.Upload.MaxFileSize,
	}, s.logger)
	accounts := service.NewAccountService(s.store, s.logger)

	pages := handler.NewPagesHandler(s.config.Server.PublicDir, s.logger)
	authHandler := handler.NewAuthHandler(accounts, s.config.Server.CookieMaxAge(), s.logger)
	exprHandler := handler.NewExpressionsHandler(slots, s.logger)
	framesHandler := handler.NewFramesHandler(slots, s.logger)

	// === Pages ===
	s.router.Get("/", pages.HandleIndex)
	s.router.Get("/left-face", pages.Page("left.html"))
	s.router.Get("/right-face", pages.Page("right.html"))
	s.router.Get("/control", pages.Page("control.html"))
	s.router.Get("/public/*", pages.HandleAssets)

	// === Frames ===
	s.router.Get("/data/{user}/{slot}/{name}", framesHandler.HandleGet)
	s.router.Head("/data/{user}/{slot}/{name}", framesHandler.HandleGet)

	// === API ===
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		r.With(auth.OptionalUser).Get("/whoami", authHandler.HandleWhoAmI)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Get("/expressions/{slot}", exprHandler.HandleList)
			r.Delete("/expressions/{slot}", exprHandler.HandleClear)
			r.Post("/upload/{slot}", exprHandler.HandleUpload)
			r.Get("/sync", s.sync.HandleSync)
			r.Get("/sync/{channel}", s.sync.HandleSync)
		})
	})
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Tell WebSocket surfaces to go away (http.Server does not track
//     hijacked connections, so RegisterOnShutdown does it)
//  3. Wait for in-flight requests to finish (30s timeout)
func (s *Server) Start() error {
	defer s.Close()

	// Uploads of 100 x 20 MiB need far more than the usual 15s.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(s.sync.Close)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("backend", s.config.Storage.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
