package llm

import (
	"errors"
	"fmt"

	"github.com/tablescout/tablescout/pkg/config"
)

// ErrorKind buckets LLM call failures for retry and fallback decisions.
type ErrorKind string

// Error kinds.
const (
	// KindAbortTimeout: the call deadline was exceeded. Retriable.
	KindAbortTimeout ErrorKind = "abort_timeout"
	// KindSchemaInvalid: the model returned JSON that failed schema
	// validation. Not retried at this layer; stages fall back.
	KindSchemaInvalid ErrorKind = "schema_invalid"
	// KindProvider5xx: transient provider failure. Retriable.
	KindProvider5xx ErrorKind = "provider_5xx"
	// KindProviderAuth: 4xx auth/config failure. Fatal.
	KindProviderAuth ErrorKind = "provider_4xx_auth"
)

// Error is the classified failure of one LLM invocation.
type Error struct {
	Kind    ErrorKind
	Purpose config.Purpose
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s (%s): %v", e.Purpose, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the failure may succeed on retry.
func (e *Error) Retriable() bool {
	return e.Kind == KindAbortTimeout || e.Kind == KindProvider5xx
}

// KindOf extracts the error kind, defaulting to provider_5xx for
// unclassified transport failures (safer to retry than to fail fast).
func KindOf(err error) ErrorKind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindProvider5xx
}

// ProviderError is returned by Provider implementations for HTTP-level
// failures, carrying the upstream status code for classification.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider status %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
