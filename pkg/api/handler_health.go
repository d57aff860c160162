package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tablescout/tablescout/pkg/store"
	"github.com/tablescout/tablescout/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /health.
// Liveness: answers 200 whenever the process is up, with per-component
// detail. A store outage degrades the report but must not make the
// orchestrator restart an otherwise working process.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := store.Ping(ctx, s.rdb, time.Second); err != nil {
		status = healthStatusDegraded
		checks["store"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.dispatcher != nil {
		checks["dispatcher"] = HealthCheck{
			Status:  healthStatusHealthy,
			Message: fmt.Sprintf("%d active searches", s.dispatcher.ActiveSlots()),
		}
	}

	if s.push != nil {
		checks["push"] = HealthCheck{Status: healthStatusHealthy}
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

// readyHandler handles GET /ready.
// Readiness keys off the store alone: without it neither submits nor
// result reads can be served.
func (s *Server) readyHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := store.Ping(ctx, s.rdb, time.Second); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "store unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
