// Package api wires the public HTTP surface of the gateway: authorization
// initiation and polling, generation routing, health and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/taskdeck/aigateway/internal/auth/session"
	"github.com/taskdeck/aigateway/internal/config"
	"github.com/taskdeck/aigateway/internal/logging"
	"github.com/taskdeck/aigateway/internal/metrics"
	"github.com/taskdeck/aigateway/internal/router"
)

// Server hosts the gateway HTTP API.
type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	registry *session.Registry
	router   *router.Router

	httpServer *http.Server
}

// NewServer assembles the gin engine with logging, recovery and metrics
// middleware and registers all routes.
func NewServer(cfg *config.Config, registry *session.Registry, genRouter *router.Router) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(metrics.Middleware())

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		registry: registry,
		router:   genRouter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.POST("/auth/login", s.handleAuthLogin)
	s.engine.GET("/auth/status/:requestId", s.handleAuthStatus)
	s.engine.POST("/generate", s.handleGenerate)
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", metrics.Handler())
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.OAuth.RequestTimeout())
	defer cancel()
	log.Info("shutting down gateway")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
