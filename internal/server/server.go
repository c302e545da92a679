// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/engine"
	"github.com/hyperjump/kotae/internal/storage"
)

// Server is the HTTP server for the Kotae API.
type Server struct {
	engine  *engine.Engine
	storage storage.Store
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	eng *engine.Engine,
	store storage.Store,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:  eng,
		storage: store,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/query", s.handleQuery)
	r.Post("/api/v1/documents", s.handleIngestDocument)
	r.Post("/api/v1/documents/batch", s.handleIngestBatch)
	r.Get("/api/v1/documents", s.handleListDocuments)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
