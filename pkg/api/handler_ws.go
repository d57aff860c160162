package api

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/tablescout/tablescout/pkg/store"
)

// wsHandler handles GET /ws.
// Redeems the single-use ticket before upgrading; redemption is atomic
// (GETDEL), so two concurrent handshakes with the same ticket admit
// exactly one connection.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.push == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "socket surface not available")
	}

	ticketID := c.QueryParam("ticket")
	if ticketID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "ticket is required")
	}

	ticket, err := s.tickets.Redeem(c.Request().Context(), ticketID)
	if errors.Is(err, store.ErrTicketInvalid) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired ticket")
	}
	if err != nil {
		s.log.Error("ticket redemption failed", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ticket store unavailable")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Origin validation happens at the auth gateway in front of us.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the socket closes.
	s.push.HandleConnection(c.Request().Context(), conn, ticket.SessionHash)
	return nil
}
