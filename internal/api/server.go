// Package api exposes the diagnosis pipeline over HTTP: report generation and
// retrieval, recalibration, health, and a websocket stream of completed
// reports for dashboards.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/domain"
	"github.com/medfusion-server/internal/middleware"
	"github.com/medfusion-server/internal/service"
)

// DiagnosisRunner is the slice of the pipeline the API layer depends on.
type DiagnosisRunner interface {
	Run(ctx context.Context, input *service.DiagnosisInput) (*domain.DiagnosticReport, error)
}

// RiskProfileLookup resolves stored patient risk factors when a diagnosis
// request references a patient instead of supplying factors inline.
type RiskProfileLookup interface {
	GetByPatient(ctx context.Context, patientID uuid.UUID) ([]domain.RiskFactor, error)
}

// ScorerHealth reports downstream scorer availability for the health endpoint.
type ScorerHealth interface {
	BreakerStates() map[string]string
	HealthCheck(ctx context.Context) map[string]bool
}

// Server represents the HTTP server
type Server struct {
	config      domain.ConfigManager
	pipeline    DiagnosisRunner
	store       domain.ReportStore
	calibration *calibration.Registry
	profiles    RiskProfileLookup
	scorers     ScorerHealth
	hub         *StreamHub
	router      *gin.Engine
	server      *http.Server
	log         *logrus.Logger
}

// NewServer creates a new HTTP server instance. profiles and scorers may be
// nil when the deployment runs without a patient database or health probing.
func NewServer(
	configMgr domain.ConfigManager,
	pipeline DiagnosisRunner,
	store domain.ReportStore,
	registry *calibration.Registry,
	profiles RiskProfileLookup,
	scorers ScorerHealth,
	logger *logrus.Logger,
) *Server {
	cfg := configMgr.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	if cfg.Server.RateLimit > 0 {
		router.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}

	server := &Server{
		config:      configMgr,
		pipeline:    pipeline,
		store:       store,
		calibration: registry,
		profiles:    profiles,
		scorers:     scorers,
		hub:         NewStreamHub(logger),
		router:      router,
		log:         logger,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/diagnose", s.handleDiagnose)
		v1.GET("/reports/:id", s.handleGetReport)
		v1.GET("/reports", s.handleListReports)
		v1.GET("/export/reports", s.handleExportReports)
		v1.POST("/recalibrate", s.handleRecalibrate)
		v1.GET("/calibration", s.handleGetCalibration)
		v1.GET("/stream", s.handleStream)
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
