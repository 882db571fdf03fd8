package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/audit"
	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/middleware"
	"github.com/spine-review-engine/internal/service"
)

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// AuditReader lists recorded audit events. Sinks that only log do not implement it.
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) ([]domain.AuditEvent, error)
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	reviews       *service.ReviewService
	secondary     *service.SecondaryService
	health        HealthChecker
	audit         AuditReader
	router        *gin.Engine
	server        *http.Server
	log           *logrus.Logger
}

// NewServer creates a new HTTP server instance. health and auditReader may be nil.
func NewServer(
	configManager domain.ConfigManager,
	reviews *service.ReviewService,
	secondary *service.SecondaryService,
	health HealthChecker,
	auditReader AuditReader,
	logger *logrus.Logger,
) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit(cfg.RateLimit))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	server := &Server{
		configManager: configManager,
		reviews:       reviews,
		secondary:     secondary,
		health:        health,
		audit:         auditReader,
		router:        router,
		log:           logger,
	}

	server.setupRoutes()

	return server
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/cases/:caseID/reviews", s.handleAssignReview)
		v1.GET("/cases/:caseID/aggregate", s.handleGetAggregate)
		v1.POST("/cases/:caseID/aggregate/recompute", s.handleRecomputeAggregate)
		v1.GET("/cases/:caseID/result", s.handleGetResult)
		v1.POST("/cases/:caseID/escalate", s.handleEscalate)
		v1.GET("/cases/:caseID/secondary-review", s.handleGetSecondaryForCase)

		v1.POST("/reviews/:reviewID/start", s.handleStartReview)
		v1.POST("/reviews/:reviewID/submit", s.handleSubmitReview)
		v1.POST("/reviews/:reviewID/stop", s.handleStopReview)

		sr := v1.Group("/secondary-reviews/:id")
		sr.GET("", s.handleGetSecondary)
		sr.POST("/forum/open", s.handleOpenForum)
		sr.POST("/rerating/open", s.handleOpenRerating)
		sr.POST("/reratings", s.handleSubmitRerating)
		sr.POST("/finalize", s.handleFinalize)
		sr.POST("/cancel", s.handleCancel)
		sr.GET("/posts", s.handleListPosts)
		sr.POST("/posts", s.handleAddPost)
		sr.POST("/moderators", s.handleAssignModerator)
		sr.POST("/participants/:userID/deactivate", s.handleDeactivateParticipant)
		sr.PUT("/summary", s.handleEditSummary)

		v1.GET("/audit", s.handleListAudit)
	}
}

// handleHealth reports liveness and database reachability
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"database":  "ok",
	}

	if s.health == nil {
		body["database"] = "not configured"
	} else if err := s.health.Health(c.Request.Context()); err != nil {
		s.log.WithError(err).Warn("Health check failed")
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["database"] = "unreachable"
	}

	c.JSON(status, body)
}
