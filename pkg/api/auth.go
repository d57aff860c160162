package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractSession extracts the session hash from proxy headers.
// Priority: X-Session-Hash (auth gateway) > X-Forwarded-User. Empty means
// anonymous: searches are allowed, ticket issuance is not.
func extractSession(c *echo.Context) string {
	if session := c.Request().Header.Get("X-Session-Hash"); session != "" {
		return session
	}
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	return ""
}
