package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/k-shibuki/lyra/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's status within a HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health and GET /ready.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health: a liveness probe that only confirms
// the process is up and able to reach its database, for orchestrator
// restart decisions. It deliberately does not check the scheduler's worker
// pool — a degraded pool should not trigger a restart.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := make(map[string]HealthCheck)
	if err := s.store.Health(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Version: version.Full(), Checks: checks})
}

// readyHandler handles GET /ready: a readiness probe that additionally
// reports the scheduler pool's worker health, for traffic-admission
// decisions rather than restart decisions.
func (s *Server) readyHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := make(map[string]HealthCheck)

	if err := s.store.Health(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	poolHealth := s.pool.Health(reqCtx)
	if !poolHealth.IsHealthy {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["scheduler_pool"] = HealthCheck{Status: healthStatusDegraded}
	} else {
		checks["scheduler_pool"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Version: version.Full(), Checks: checks})
}
