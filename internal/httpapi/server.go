// Package httpapi exposes the prediction scheduler over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"irrigation-backend/internal/hybrid"
	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/metrics"
	"irrigation-backend/internal/models"
	"irrigation-backend/internal/scheduler"
)

// Scheduler is what the handlers need from *scheduler.Scheduler
type Scheduler interface {
	Predict(ctx context.Context, in hybrid.Input) (models.Decision, error)
	PredictNow(ctx context.Context, in hybrid.Input) (models.Decision, error)
	Invalidate(ctx context.Context, plantID int) int
	InvalidateAll(ctx context.Context) int
	Stats() scheduler.Stats
	HealthCheck(ctx context.Context) scheduler.Health
}

// Options configures the server
type Options struct {
	Addr           string
	RequestTimeout time.Duration
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	opts    Options
	sched   Scheduler
	metrics *metrics.Metrics
	log     *logger.Logger
	engine  *gin.Engine
	now     func() time.Time
}

// New constructs a server with routes and middleware. metrics may be nil.
func New(opts Options, sched Scheduler, m *metrics.Metrics, log *logger.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		opts:    opts,
		sched:   sched,
		metrics: m,
		log:     log.Component("HTTP"),
		engine:  engine,
		now:     time.Now,
	}
	engine.Use(s.observe())
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/api/v1")
	v1.POST("/plants/:plantId/predict", s.handlePredict)
	v1.DELETE("/plants/:plantId/cache", s.handleInvalidate)
	v1.DELETE("/cache", s.handleInvalidateAll)
	v1.GET("/stats", s.handleStats)
}

// observe logs and counts every request by its route template
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		took := time.Since(start)
		status := c.Writer.Status()
		s.metrics.HTTPRequest(route, status, took)
		s.log.Debug("Request", "method", c.Request.Method, "route", route, "status", status, "took", took)
	}
}
