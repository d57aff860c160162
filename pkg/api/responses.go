package api

import (
	"github.com/tablescout/tablescout/pkg/models"
)

// SubmitSearchRequest is the body of POST /api/v1/search.
type SubmitSearchRequest struct {
	Query        string             `json:"query"`
	UserLocation *models.Coordinate `json:"userLocation,omitempty"`
	RegionCode   string             `json:"regionCode,omitempty"`
	UILanguage   string             `json:"uiLanguage,omitempty"`
}

// SubmitSearchResponse is returned by POST /api/v1/search with 202.
type SubmitSearchResponse struct {
	RequestID        string `json:"requestId"`
	Status           string `json:"status"`
	Reused           bool   `json:"reused,omitempty"`
	ContractsVersion string `json:"contractsVersion"`
}

// ResultPendingResponse is the 202 shape of the result endpoint while the
// job has not reached a terminal state.
type ResultPendingResponse struct {
	RequestID        string      `json:"requestId"`
	Status           string      `json:"status"`
	Progress         int         `json:"progress"`
	Meta             *PollerMeta `json:"meta,omitempty"`
	ContractsVersion string      `json:"contractsVersion"`
}

// PollerMeta carries staleness info for polling clients.
type PollerMeta struct {
	IsStale bool `json:"isStale"`
}

// ResultSuccessResponse is the 200 shape for a completed search with a
// stored result.
type ResultSuccessResponse struct {
	RequestID        string                  `json:"requestId"`
	Status           string                  `json:"status"`
	Results          []models.Place          `json:"results"`
	Assist           models.AssistantMessage `json:"assist"`
	Meta             models.ResultMeta       `json:"meta"`
	ContractsVersion string                  `json:"contractsVersion"`
}

// ResultTerminalErrorResponse covers DONE_FAILED and the completed-but-lost
// RESULT_MISSING case. Async failure is 200, never 5xx.
type ResultTerminalErrorResponse struct {
	RequestID        string `json:"requestId"`
	Status           string `json:"status"`
	Code             string `json:"code"`
	Message          string `json:"message"`
	ErrorType        string `json:"errorType,omitempty"`
	Terminal         bool   `json:"terminal"`
	ContractsVersion string `json:"contractsVersion"`
}

// NotFoundResponse is the 404 shape of the result endpoint.
type NotFoundResponse struct {
	Code string `json:"code"`
}

// WSTicketResponse is returned by POST /api/v1/auth/ws-ticket.
type WSTicketResponse struct {
	Ticket     string `json:"ticket"`
	TTLSeconds int    `json:"ttlSeconds"`
	TraceID    string `json:"traceId"`
}

// WSTicketErrorResponse is the 503 shape when the ticket store is down.
type WSTicketErrorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	TraceID   string `json:"traceId"`
}

// HealthCheck is one component's health inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
