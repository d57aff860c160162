package places

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/logging"
	"github.com/tablescout/tablescout/pkg/models"
	"github.com/tablescout/tablescout/pkg/version"
)

// DefaultFieldMask lists the place fields the pipeline consumes. Keeping
// the mask tight keeps provider payloads small.
const DefaultFieldMask = "places.id,places.displayName,places.rating,places.userRatingCount," +
	"places.formattedAddress,places.types,places.location,places.priceLevel,places.currentOpeningHours.openNow"

// Client wraps a Provider with timeouts, single 5xx retry for text search,
// and the geocode cache.
type Client struct {
	provider Provider
	cfg      *config.PlacesConfig
	geocode  *ttlCache
}

// NewClient creates a place client.
func NewClient(provider Provider, cfg *config.PlacesConfig) *Client {
	return &Client{
		provider: provider,
		cfg:      cfg,
		geocode:  newTTLCache(cfg.GeocodeCacheTTL),
	}
}

// TextSearch runs a provider text search under the configured timeout,
// retrying exactly once on a 5xx, and truncates the result to the
// configured maximum.
func (c *Client) TextSearch(ctx context.Context, in TextSearchInput) ([]models.Place, error) {
	if in.FieldMask == "" {
		in.FieldMask = DefaultFieldMask
	}
	if in.MaxResults <= 0 {
		in.MaxResults = c.cfg.MaxResults
	}

	log := slog.With("text_query", in.TextQuery, "language", in.LanguageCode, "region", in.RegionCode)
	log.Debug("places_text_search", "cache_key", CacheKey(in))
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.TextSearchTimeout)
	defer cancel()

	places, err := c.provider.TextSearch(callCtx, in)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.StatusCode >= 500 {
			log.Warn("places_text_search_retry", "status", perr.StatusCode)
			retryCtx, retryCancel := context.WithTimeout(ctx, c.cfg.TextSearchTimeout)
			defer retryCancel()
			places, err = c.provider.TextSearch(retryCtx, in)
		}
	}
	logging.Timed(log, "places_text_search_done", time.Since(start), c.cfg.TextSearchTimeout/2,
		"count", len(places), "ok", err == nil)
	if err != nil {
		return nil, err
	}

	if len(places) > in.MaxResults {
		places = places[:in.MaxResults]
	}
	return places, nil
}

// Geocode resolves a city center, serving repeats from the in-process
// cache (key cityText|regionCode). Geocode failures are left to the caller;
// there is no retry, and the cache absorbs the cost of successes.
func (c *Client) Geocode(ctx context.Context, cityText, regionCode string) (models.Coordinate, error) {
	key := geocodeKey(cityText, regionCode)
	if v, ok := c.geocode.get(key); ok {
		slog.Debug("geocode_cache_hit", "key", key)
		return v.(models.Coordinate), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.GeocodeTimeout)
	defer cancel()

	coord, err := c.provider.Geocode(callCtx, cityText, regionCode)
	if err != nil {
		return models.Coordinate{}, err
	}
	c.geocode.set(key, coord)
	return coord, nil
}

func geocodeKey(cityText, regionCode string) string {
	return strings.ToLower(strings.TrimSpace(cityText)) + "|" + strings.ToUpper(regionCode)
}

// CacheKey derives the text-search cache key. It covers ONLY the fields
// that change the provider payload: query, search language, region, bias,
// field mask, and the wire-contract version. Assistant/UI/intent language
// must never leak in here.
func CacheKey(in TextSearchInput) string {
	var b strings.Builder
	b.WriteString(in.TextQuery)
	b.WriteByte('|')
	b.WriteString(in.LanguageCode)
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(in.RegionCode))
	b.WriteByte('|')
	if in.Bias != nil {
		fmt.Fprintf(&b, "%.5f,%.5f,%.0f", in.Bias.Center.Lat, in.Bias.Center.Lng, in.Bias.RadiusMeters)
	}
	b.WriteByte('|')
	b.WriteString(in.FieldMask)
	b.WriteByte('|')
	b.WriteString(version.Contracts)
	return b.String()
}
