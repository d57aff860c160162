// Package api exposes the HTTP and socket surfaces: search submit, result
// polling, ticket issuance for socket auth, and health/readiness probes.
package api

import (
	"context"
	"log/slog"

	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/dispatch"
	"github.com/tablescout/tablescout/pkg/models"
	"github.com/tablescout/tablescout/pkg/push"
	"github.com/tablescout/tablescout/pkg/store"
)

// Submitter accepts search requests for execution and reports how many are
// running. The dispatcher is the production implementation.
type Submitter interface {
	Submit(ctx context.Context, req *models.SearchRequest) (*dispatch.Submission, error)
	ActiveSlots() int
}

// Server holds the handler dependencies. The job store is the single source
// of truth for results; push delivery is a convenience channel on top.
type Server struct {
	log        *slog.Logger
	cfg        *config.Config
	rdb        *redis.Client
	jobs       *store.JobStore
	tickets    *store.TicketStore
	dispatcher Submitter
	push       *push.Manager
}

// NewServer creates the API server.
func NewServer(log *slog.Logger, cfg *config.Config, rdb *redis.Client, jobs *store.JobStore, tickets *store.TicketStore, dispatcher Submitter, pushManager *push.Manager) *Server {
	return &Server{
		log:        log.With("component", "api"),
		cfg:        cfg,
		rdb:        rdb,
		jobs:       jobs,
		tickets:    tickets,
		dispatcher: dispatcher,
		push:       pushManager,
	}
}

// Routes registers all endpoints on the echo instance.
func (s *Server) Routes(e *echo.Echo) {
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/ready", s.readyHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/search", s.submitSearchHandler)
	v1.GET("/search/:requestId/result", s.searchResultHandler)
	v1.POST("/auth/ws-ticket", s.wsTicketHandler)
}
