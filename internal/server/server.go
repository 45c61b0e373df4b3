package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"incident-ledger/config"
	"incident-ledger/internal/handler"
	"incident-ledger/internal/middleware"
	"incident-ledger/internal/transport/httpdto"
	"incident-ledger/internal/websocket"
	"incident-ledger/pkg/logger"
)

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

const shutdownTimeout = 5 * time.Second

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Incidents *handler.IncidentHandler
	Watch     *websocket.Handler
}

type closer struct {
	name string
	fn   func() error
}

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	checks     map[string]HealthCheck
	closers    []closer
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l.Named("http"),
		checks: make(map[string]HealthCheck),
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// AddHealthCheck registers a dependency probed by /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// OnShutdown registers a resource closed after the HTTP server stops, in
// reverse registration order.
func (s *Server) OnShutdown(name string, fn func() error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

func (s *Server) SetupRoutes(handlers *Handlers, gatherer prometheus.Gatherer) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})
	s.engine.GET("/health", s.health)
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	incidents := s.engine.Group("/v1/incidents")
	{
		incidents.POST("", handlers.Incidents.Create)
		incidents.GET("/:id", handlers.Incidents.Get)
		incidents.GET("/:id/aggregate", handlers.Incidents.Aggregate)
		incidents.GET("/:id/events", handlers.Incidents.History)
		incidents.GET("/:id/archive", handlers.Incidents.Archive)
		incidents.POST("/:id/rebuild", handlers.Incidents.Rebuild)
		incidents.PUT("/:id/agent", handlers.Incidents.AssignAgent)
		incidents.PUT("/:id/priority", handlers.Incidents.SetPriority)
		incidents.POST("/:id/comments", handlers.Incidents.AddComment)
		incidents.PUT("/:id/status", handlers.Incidents.UpdateStatus)
		incidents.PUT("/:id/acknowledge", handlers.Incidents.Acknowledge)
		incidents.PUT("/:id/close", handlers.Incidents.Close)
		if handlers.Watch != nil {
			incidents.GET("/:id/watch", handlers.Watch.Watch)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, httpdto.Response[map[string]string]{Data: status, Code: "UNHEALTHY"})
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(status))
}

// Run serves until ctx is cancelled, then shuts down gracefully and closes
// the registered resources.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting the server", zap.String("port", s.config.AppPort))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Error(ctx, "Server failed", zap.Error(err))
			return multierr.Append(err, s.closeAll())
		}
		return s.closeAll()
	case <-ctx.Done():
	}

	s.logger.Info(context.Background(), "Shutting down the server", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	err = multierr.Append(err, s.closeAll())
	if err != nil {
		s.logger.Error(context.Background(), "Unclean shutdown", zap.Error(err))
		return err
	}
	s.logger.Info(context.Background(), "Server stopped gracefully")
	return nil
}

func (s *Server) closeAll() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if cerr := c.fn(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.name, cerr))
		}
	}
	return err
}
