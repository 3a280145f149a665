// Package server is the HTTP side of serve mode: a health probe, the status
// of the last run, and the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// Server wraps a gin engine and its listener.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *log.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics mounts h (usually promhttp) at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		if h == nil {
			return
		}
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(h))
	}
}

// WithLogger sets the logger used for listener errors.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the router. status may be nil, in which case /status is not
// served.
func New(addr string, status *Status, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		logger: log.New(os.Stdout, "[HTTP] ", log.LstdFlags),
	}
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})
	if status != nil {
		engine.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, status.Snapshot())
		})
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.srv = &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Printf("listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("server: %v", err)
		}
	}()
}

// Shutdown stops the listener, waiting up to five seconds for requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
