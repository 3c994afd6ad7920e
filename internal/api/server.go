// Package api exposes the rollout controller over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/canarygate/canarygate/internal/application"
)

// Server wraps the gin engine and HTTP lifecycle helpers.
type Server struct {
	engine *gin.Engine
	http   *http.Server
}

// NewServer constructs the HTTP API bound to addr.
func NewServer(addr string, rollouts *application.RolloutService, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{rollouts: rollouts, logger: logger}

	engine.GET("/healthz", h.healthz)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/rollouts", h.startRollout)
		v1.GET("/rollouts", h.listRollouts)
		v1.GET("/rollouts/:id", h.getRollout)
		v1.POST("/rollouts/:id/cancel", h.cancelRollout)
	}

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the underlying HTTP handler (useful for tests).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
