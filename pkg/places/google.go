package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/models"
	"github.com/tablescout/tablescout/pkg/version"
)

// geocodeBaseURL is the Geocoding API endpoint. Text search uses the
// configured Places base URL; geocoding is a separate legacy-style API.
const geocodeBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleProvider implements Provider over the Google Places API (v1 text
// search) and the Geocoding API.
type GoogleProvider struct {
	apiKey     string
	baseURL    string
	geocodeURL string
	httpClient *http.Client
}

// NewGoogleProvider creates the provider, reading the API key from the
// environment variable named in config.
func NewGoogleProvider(cfg *config.PlacesConfig) (*GoogleProvider, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key: %s is not set", cfg.APIKeyEnv)
	}
	return &GoogleProvider{
		apiKey:     key,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		geocodeURL: geocodeBaseURL,
		httpClient: &http.Client{},
	}, nil
}

// --- wire types ---

type searchTextRequest struct {
	TextQuery      string        `json:"textQuery"`
	RegionCode     string        `json:"regionCode,omitempty"`
	LanguageCode   string        `json:"languageCode,omitempty"`
	MaxResultCount int           `json:"maxResultCount,omitempty"`
	LocationBias   *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type searchTextResponse struct {
	Places []wirePlace `json:"places"`
}

type wirePlace struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	Rating              float64  `json:"rating"`
	UserRatingCount     int      `json:"userRatingCount"`
	FormattedAddress    string   `json:"formattedAddress"`
	Types               []string `json:"types"`
	Location            latLng   `json:"location"`
	PriceLevel          string   `json:"priceLevel"`
	CurrentOpeningHours *struct {
		OpenNow bool `json:"openNow"`
	} `json:"currentOpeningHours"`
}

// TextSearch calls places:searchText with the field mask header.
func (p *GoogleProvider) TextSearch(ctx context.Context, in TextSearchInput) ([]models.Place, error) {
	body, err := json.Marshal(searchTextRequest{
		TextQuery:      in.TextQuery,
		RegionCode:     in.RegionCode,
		LanguageCode:   in.LanguageCode,
		MaxResultCount: in.MaxResults,
		LocationBias:   toWireBias(in.Bias),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("X-Goog-FieldMask", in.FieldMask)
	req.Header.Set("User-Agent", version.Full())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{StatusCode: resp.StatusCode,
			Err: fmt.Errorf("searchText: %s", strings.TrimSpace(string(detail)))}
	}

	var parsed searchTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding searchText response: %w", err)
	}

	places := make([]models.Place, 0, len(parsed.Places))
	for _, w := range parsed.Places {
		places = append(places, fromWirePlace(w))
	}
	return places, nil
}

// Geocode resolves a city string to its center coordinate.
func (p *GoogleProvider) Geocode(ctx context.Context, cityText, regionCode string) (models.Coordinate, error) {
	q := url.Values{}
	q.Set("address", cityText)
	q.Set("region", strings.ToLower(regionCode))
	q.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.geocodeURL+"?"+q.Encode(), nil)
	if err != nil {
		return models.Coordinate{}, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.Coordinate{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return models.Coordinate{}, &ProviderError{StatusCode: resp.StatusCode,
			Err: fmt.Errorf("geocode %q", cityText)}
	}

	var parsed struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.Coordinate{}, fmt.Errorf("decoding geocode response: %w", err)
	}
	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		return models.Coordinate{}, fmt.Errorf("%w: %q (%s)", ErrNoResults, cityText, parsed.Status)
	}

	loc := parsed.Results[0].Geometry.Location
	return models.Coordinate{Lat: loc.Lat, Lng: loc.Lng}, nil
}

func toWireBias(b *models.LocationBias) *locationBias {
	if b == nil {
		return nil
	}
	return &locationBias{Circle: circle{
		Center: latLng{Latitude: b.Center.Lat, Longitude: b.Center.Lng},
		Radius: b.RadiusMeters,
	}}
}

func fromWirePlace(w wirePlace) models.Place {
	p := models.Place{
		ID:              w.ID,
		Name:            w.DisplayName.Text,
		Rating:          w.Rating,
		UserRatingCount: w.UserRatingCount,
		Address:         w.FormattedAddress,
		Types:           w.Types,
		Location:        models.Coordinate{Lat: w.Location.Latitude, Lng: w.Location.Longitude},
		PriceLevel:      priceLevelOrdinal(w.PriceLevel),
	}
	if w.CurrentOpeningHours != nil {
		open := w.CurrentOpeningHours.OpenNow
		p.OpenNow = &open
	}
	return p
}

// priceLevelOrdinal maps the provider's enum onto the 0–4 scale used by
// post-constraint filters.
func priceLevelOrdinal(level string) int {
	switch level {
	case "PRICE_LEVEL_FREE":
		return 0
	case "PRICE_LEVEL_INEXPENSIVE":
		return 1
	case "PRICE_LEVEL_MODERATE":
		return 2
	case "PRICE_LEVEL_EXPENSIVE":
		return 3
	case "PRICE_LEVEL_VERY_EXPENSIVE":
		return 4
	}
	return 0
}
