// Package places talks to the place provider: text search with field
// masking, geocoding with an in-process TTL cache, and a cache key that is
// strictly independent of assistant/UI language.
package places

import (
	"context"
	"fmt"

	"github.com/tablescout/tablescout/pkg/models"
)

// TextSearchInput is one provider text-search call.
type TextSearchInput struct {
	TextQuery    string
	RegionCode   string
	LanguageCode string // always the search language
	Bias         *models.LocationBias
	FieldMask    string
	MaxResults   int
}

// Provider is the transport boundary to the place-provider SDK.
type Provider interface {
	TextSearch(ctx context.Context, in TextSearchInput) ([]models.Place, error)
	Geocode(ctx context.Context, cityText, regionCode string) (models.Coordinate, error)
}

// ProviderError carries the upstream HTTP status for retry decisions:
// 5xx is retried once at this layer, 4xx surfaces immediately.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("places provider status %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrNoResults is returned by Geocode when the city cannot be resolved.
var ErrNoResults = fmt.Errorf("no geocoding results")
