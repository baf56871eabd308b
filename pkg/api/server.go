// Package api exposes Lyra's operational HTTP surface: liveness and
// readiness probes for the process running the MCP stdio server, separate
// from the tool protocol itself (pkg/protocol). Grounded on the teacher's
// Echo-based health endpoint, trimmed to the one concern that survives
// outside the tool protocol — container/orchestrator health checks.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/k-shibuki/lyra/pkg/scheduler"
)

// Store is the subset of *store.Store the health endpoint checks.
type Store interface {
	Health(ctx context.Context) error
}

// PoolHealthSource is the subset of *scheduler.Pool the readiness endpoint
// reports on.
type PoolHealthSource interface {
	Health(ctx context.Context) scheduler.PoolHealth
}

// Server is Lyra's operational HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	store      Store
	pool       PoolHealthSource
}

// NewServer constructs a Server backed by st and pool.
func NewServer(st Store, pool PoolHealthSource) *Server {
	e := echo.New()
	s := &Server{echo: e, store: st, pool: pool}
	s.echo.Use(securityHeaders())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ready", s.readyHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo, ReadHeaderTimeout: 5 * time.Second}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, for
// tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo, ReadHeaderTimeout: 5 * time.Second}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
