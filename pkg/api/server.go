package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"marketpulse/pkg/api/middleware"
	"marketpulse/pkg/auth"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/worker"
)

// PauseController flips the cross-process pause flag the worker pool polls;
// satisfied by *marketpulse/pkg/cache/redis.Cache.
type PauseController interface {
	SetPaused(ctx context.Context, paused bool) error
}

// Server is the management HTTP API: queue inspection and control (spec.md
// §6's /api/v1/queue/* surface) plus health and Prometheus metrics.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	engine    *queue.Engine
	pool      *worker.Pool
	pause     PauseController
	validator *middleware.Validator
	log       *zap.Logger

	authEnabled bool
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Engine      *queue.Engine
	Pool        *worker.Pool
	Pause       PauseController
	Idempotency middleware.IdempotencyStore
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	AuthEnabled bool
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("marketpulse-api"))
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))
	router.Use(middleware.IdempotencyMiddleware(cfg.Idempotency))

	s := &Server{
		router:    router,
		engine:    cfg.Engine,
		pool:      cfg.Pool,
		pause:     cfg.Pause,
		validator: middleware.NewValidator(middleware.DefaultValidatorConfig()),
		log:       logger.Get(),

		authEnabled: cfg.AuthEnabled,
	}

	if cfg.AuthEnabled {
		router.Use(middleware.AuthMiddleware(middleware.AuthConfig{
			JWTService:  cfg.JWTService,
			APIKeyStore: cfg.APIKeyStore,
			SkipPaths:   []string{"/health", "/metrics"},
		}))
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		q := v1.Group("/queue")
		{
			q.GET("/stats", s.queueStats)
			q.GET("/jobs", s.listJobs)
			q.GET("/jobs/:id", s.getJob)
			q.POST("/jobs/:id/retry", s.retryJob)
			q.POST("/jobs/:id/cancel", s.cancelJob)
			q.POST("/jobs/:id/reset", s.resetJob)
			q.DELETE("/jobs/:id", s.deleteJob)
			q.POST("/pause", s.pauseQueue)
			q.POST("/resume", s.resumeQueue)
			q.POST("/clear", s.clearQueue)
			createJob := []gin.HandlerFunc{s.createJob}
			if s.authEnabled {
				createJob = append([]gin.HandlerFunc{middleware.RequireRole(auth.RoleAdmin)}, createJob...)
			}
			q.POST("/jobs", createJob...)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	log := logger.Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	deps := map[string]bool{
		"queue_engine": s.engine != nil,
	}
	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
