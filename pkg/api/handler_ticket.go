package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/tablescout/tablescout/pkg/models"
)

// wsTicketHandler handles POST /api/v1/auth/ws-ticket.
// Issues a single-use short-lived ticket bound to the caller's session.
// A store outage answers 503 with Retry-After so clients back off briefly
// instead of hammering the handshake.
func (s *Server) wsTicketHandler(c *echo.Context) error {
	session := extractSession(c)
	if session == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authenticated session required")
	}

	traceID := uuid.NewString()
	ticket, err := s.tickets.Issue(c.Request().Context(), session)
	if err != nil {
		s.log.Error("ticket issuance failed", "trace_id", traceID, "error", err)
		c.Response().Header().Set("Retry-After", "2")
		return c.JSON(http.StatusServiceUnavailable, &WSTicketErrorResponse{
			ErrorCode: models.ErrCodeWSNotReady,
			Message:   "ticket store unavailable, retry shortly",
			TraceID:   traceID,
		})
	}

	return c.JSON(http.StatusOK, &WSTicketResponse{
		Ticket:     ticket.ID,
		TTLSeconds: int(s.cfg.Redis.TicketTTL.Seconds()),
		TraceID:    traceID,
	})
}
