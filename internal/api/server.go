// Package api exposes the reconciliation service over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/handlers"
	"github.com/eshaffer321/vat-reconcile/internal/api/middleware"
	"github.com/eshaffer321/vat-reconcile/internal/application/jobs"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
	svc        *reconcile.Service
	jobs       *jobs.Manager
}

// NewServer creates a new API server.
func NewServer(cfg Config, svc *reconcile.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		router: gin.New(),
		logger: logger,
		svc:    svc,
		jobs:   jobs.NewManager(svc, logger, jobs.DefaultMaxDuration),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())

	// CORS
	corsConfig := middleware.CORSConfig{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Accept", "Authorization", "Content-Type"},
	}
	s.router.Use(middleware.CORS(corsConfig))

	// Request logging
	s.router.Use(middleware.Logging(s.logger, "/health"))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler()
	s.router.GET("/health", healthHandler.Get)

	// Everything else is scoped to one owner
	r := s.router.Group("/api/owners/:owner")

	// Imports and uploads
	importsHandler := handlers.NewImportsHandler(s.svc)
	r.POST("/imports/bank", importsHandler.Bank)
	r.POST("/imports/credit-card", importsHandler.CreditCard)
	r.POST("/invoices", importsHandler.SaveInvoice)
	r.GET("/invoices/:invoiceID/duplicates", importsHandler.InvoiceDuplicates)
	r.GET("/invoices/:invoiceID/line-items", importsHandler.ListLineItems)
	r.POST("/invoices/:invoiceID/line-items", importsHandler.LineItems)
	r.POST("/files/check", importsHandler.CheckFile)

	// Ledger rows
	transactionsHandler := handlers.NewTransactionsHandler(s.svc)
	r.GET("/transactions", transactionsHandler.List)

	// Matching
	matchingHandler := handlers.NewMatchingHandler(s.svc)
	r.POST("/match/credit-cards", matchingHandler.RunCreditCards)
	r.GET("/match/credit-cards", matchingHandler.ListSettlements)
	r.DELETE("/match/credit-cards/:transactionID", matchingHandler.UnlinkCreditCard)
	r.PUT("/match/credit-cards/:transactionID/review", matchingHandler.ReviewSettlement)
	r.POST("/match/line-items", matchingHandler.RunLineItems)
	r.POST("/line-items/:lineItemID/link", matchingHandler.LinkLineItem)
	r.DELETE("/line-items/:lineItemID/link", matchingHandler.UnlinkLineItem)

	// Vendor aliases
	aliasesHandler := handlers.NewAliasesHandler(s.svc)
	r.GET("/vendor-aliases", aliasesHandler.List)
	r.POST("/vendor-aliases", aliasesHandler.Create)
	r.DELETE("/vendor-aliases/:aliasID", aliasesHandler.Delete)

	// Background matching jobs
	jobsHandler := handlers.NewJobsHandler(s.svc, s.jobs)
	r.POST("/jobs", jobsHandler.Start)
	r.GET("/jobs", jobsHandler.List)
	r.GET("/jobs/:jobID", jobsHandler.Get)
	r.DELETE("/jobs/:jobID", jobsHandler.Cancel)

	// Batch runs
	runsHandler := handlers.NewRunsHandler(s.svc)
	r.GET("/runs", runsHandler.List)
	r.GET("/runs/:id", runsHandler.Get)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.jobs.StartBackgroundCleanup(10*time.Minute, time.Hour)

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	var serverErr error
	if s.httpServer != nil {
		serverErr = s.httpServer.Shutdown(ctx)
	}

	if err := s.jobs.Shutdown(ctx); err != nil {
		s.logger.Warn("background jobs did not stop in time", "error", err)
	}

	return serverErr
}

// Jobs returns the background job manager.
func (s *Server) Jobs() *jobs.Manager {
	return s.jobs
}

// Router returns the HTTP handler for testing.
func (s *Server) Router() http.Handler {
	return s.router
}
