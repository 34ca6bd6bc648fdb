// Package api exposes the optional status HTTP API: health, run listing,
// selection submission, and cancellation. The server is off by default and
// only started when configured.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/observability"
	"github.com/voxcut/voxcut/internal/version"
)

// Server is the status API HTTP server.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the server and its middleware chain. Operations are
// registered separately via Handler.Register.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	log := observability.WithComponent(logger, "api")

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(requestID)
	router.Use(accessLog(log))
	router.Use(recovery(log))

	humaConfig := huma.DefaultConfig("voxcut status API", version.Version)
	humaConfig.Info.Description = "Run status, selection submission, and cancellation for the voxcut pipeline"

	return &Server{
		cfg:    cfg,
		router: router,
		api:    humachi.New(router, humaConfig),
		logger: log,
	}
}

// API returns the huma API for registering operations.
func (s *Server) API() huma.API { return s.api }

// Router returns the chi router for plain HTTP routes.
func (s *Server) Router() *chi.Mux { return s.router }

// ListenAndServe runs the server until ctx is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("serving status API: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	s.logger.Info("status API stopped")
	return nil
}
