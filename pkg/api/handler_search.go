package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tablescout/tablescout/pkg/models"
	"github.com/tablescout/tablescout/pkg/store"
	"github.com/tablescout/tablescout/pkg/version"
)

// maxQueryLength bounds the free-text query to keep prompts sane.
const maxQueryLength = 500

// submitSearchHandler handles POST /api/v1/search.
// Arbitrates against equal-fingerprint jobs and returns 202 immediately;
// the pipeline runs detached from this request.
func (s *Server) submitSearchHandler(c *echo.Context) error {
	var req SubmitSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if len(req.Query) > maxQueryLength {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("query exceeds maximum length of %d characters", maxQueryLength))
	}

	search := &models.SearchRequest{
		Query:        req.Query,
		UserLocation: req.UserLocation,
		RegionCode:   req.RegionCode,
		UILanguage:   req.UILanguage,
		SessionHash:  extractSession(c),
		SubmittedAt:  time.Now().UTC(),
	}

	sub, err := s.dispatcher.Submit(c.Request().Context(), search)
	if err != nil {
		s.log.Error("search submit failed", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search submission unavailable")
	}

	return c.JSON(http.StatusAccepted, &SubmitSearchResponse{
		RequestID:        sub.RequestID,
		Status:           string(sub.Status),
		Reused:           sub.Reused,
		ContractsVersion: version.Contracts,
	})
}

// searchResultHandler handles GET /api/v1/search/:requestId/result.
// The job store is authoritative: async failures answer 200 with terminal
// detail, never 5xx.
func (s *Server) searchResultHandler(c *echo.Context) error {
	requestID := c.Param("requestId")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requestId is required")
	}

	record, err := s.jobs.GetJob(c.Request().Context(), requestID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, &NotFoundResponse{Code: models.ErrCodeNotFound})
	}
	if err != nil {
		s.log.Error("result lookup failed", "request_id", requestID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "result store unavailable")
	}

	switch record.Status {
	case models.StatusPending, models.StatusRunning:
		return c.JSON(http.StatusAccepted, &ResultPendingResponse{
			RequestID: requestID,
			Status:    string(record.Status),
			Progress:  record.Progress,
			Meta: &PollerMeta{
				IsStale: time.Since(record.UpdatedAt) > s.cfg.Dedup.RunningMaxAge,
			},
			ContractsVersion: version.Contracts,
		})

	case models.StatusDoneSuccess:
		if record.Result == nil {
			// Completed but the payload was lost: surface as a terminal
			// error the client can retry from.
			return c.JSON(http.StatusOK, &ResultTerminalErrorResponse{
				RequestID:        requestID,
				Status:           string(record.Status),
				Code:             models.ErrCodeResultMissing,
				Message:          models.DefaultResultMissingMessage,
				Terminal:         true,
				ContractsVersion: version.Contracts,
			})
		}
		return c.JSON(http.StatusOK, &ResultSuccessResponse{
			RequestID:        requestID,
			Status:           "done",
			Results:          record.Result.Places,
			Assist:           record.Result.Assistant,
			Meta:             record.Result.Meta,
			ContractsVersion: version.Contracts,
		})

	default: // DONE_FAILED
		safe := record.SafeError()
		return c.JSON(http.StatusOK, &ResultTerminalErrorResponse{
			RequestID:        requestID,
			Status:           string(models.StatusDoneFailed),
			Code:             safe.Code,
			Message:          safe.Message,
			ErrorType:        safe.ErrorType,
			Terminal:         true,
			ContractsVersion: version.Contracts,
		})
	}
}
