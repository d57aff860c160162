package models

// Error codes surfaced on terminal job failures and HTTP responses.
// The set matches the propagation policy: retriable provider faults,
// fallback-capable model faults, and generic terminal failures.
const (
	ErrCodeProviderTimeout     = "PROVIDER_TIMEOUT"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeLLMSchemaInvalid    = "LLM_SCHEMA_INVALID"
	ErrCodeLLMFatal            = "LLM_FATAL"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeStaleRunning        = "STALE_RUNNING"
	ErrCodeResultMissing       = "RESULT_MISSING"
	ErrCodeWSNotReady          = "WS_TICKET_REDIS_NOT_READY"
	ErrCodeSearchFailed        = "SEARCH_FAILED"
	ErrCodeNotFound            = "NOT_FOUND"
)

// Defaults substituted when a DONE_FAILED record lost its error detail.
const (
	DefaultFailureMessage       = "Search failed. Please retry."
	DefaultResultMissingMessage = "Search completed but result unavailable. Please retry."
)

// SafeError returns the job's error, substituting safe defaults for any
// missing field so HTTP responses never carry undefined fields.
func (r *JobRecord) SafeError() JobError {
	e := JobError{Code: ErrCodeSearchFailed, Message: DefaultFailureMessage, ErrorType: "terminal"}
	if r.Error == nil {
		return e
	}
	if r.Error.Code != "" {
		e.Code = r.Error.Code
	}
	if r.Error.Message != "" {
		e.Message = r.Error.Message
	}
	if r.Error.ErrorType != "" {
		e.ErrorType = r.Error.ErrorType
	}
	return e
}
