// Package server provides the HTTP API for the anonymization service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unimib-datAI/dave-anonymizer/internal/config"
	"github.com/unimib-datAI/dave-anonymizer/internal/metrics"
	"github.com/unimib-datAI/dave-anonymizer/internal/rewrite"
	"github.com/unimib-datAI/dave-anonymizer/internal/secrets"
	"github.com/unimib-datAI/dave-anonymizer/internal/storage"
)

// Server is the HTTP server for the anonymization API.
type Server struct {
	storage  storage.Storage
	rewriter *rewrite.Rewriter
	breaker  *secrets.Breaker
	config   *config.ServerConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	server   *http.Server
}

// NewServer creates a server with the given dependencies. breaker and m
// may be nil; the status and metrics endpoints degrade accordingly.
func NewServer(
	store storage.Storage,
	rewriter *rewrite.Rewriter,
	breaker *secrets.Breaker,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Server {
	return &Server{
		storage:  store,
		rewriter: rewriter,
		breaker:  breaker,
		config:   cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/documents", s.handleCreateDocument)
	r.Get("/api/v1/documents", s.handleListDocuments)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Put("/api/v1/documents/{id}", s.handleUpdateDocument)
	r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
	r.Post("/api/v1/documents/{id}/anonymize", s.handleAnonymizeDocument)
	r.Post("/api/v1/documents/{id}/deanonymize", s.handleDeanonymizeDocument)
	r.Post("/api/v1/anonymize", s.handleAnonymize)
	r.Post("/api/v1/deanonymize", s.handleDeanonymize)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
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
