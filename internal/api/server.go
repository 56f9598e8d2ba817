package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/monitor"
	"github.com/jwtly10/fxbot/internal/registry"
	"github.com/jwtly10/fxbot/internal/tradelog"
)

var log = logging.New("api")

type ModelLister interface {
	List(ctx context.Context) ([]registry.Metadata, error)
}

type HealthChecker interface {
	Check(ctx context.Context) (monitor.Health, error)
}

// Deps are the services behind the HTTP routes. Nil services answer 503.
type Deps struct {
	Models  ModelLister
	Trades  tradelog.Store
	Monitor HealthChecker
	Cache   Cache
}

type Server struct {
	cfg    *config.Settings
	deps   Deps
	engine *gin.Engine
	server *http.Server
}

func NewServer(cfg *config.Settings, deps Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggerMiddleware())

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: engine,
		server: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	h := &handler{cfg: s.cfg, deps: s.deps}

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	{
		api.POST("/signals", h.generateSignal)
		api.GET("/monitor", h.getMonitor)
		api.GET("/models", h.listModels)
		api.GET("/trades", h.recentTrades)
		api.POST("/trades/:ticket/exit", h.closeTrade)
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Warn("API server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			log.Warn("Request failed", "method", c.Request.Method, "path", path, "status", status, "latency", time.Since(start))
			return
		}
		log.Info("Request", "method", c.Request.Method, "path", path, "status", status, "latency", time.Since(start))
	}
}
