// Package ranking orders place candidates deterministically: a distance
// anchor is resolved first, then a weight profile scores the four ranking
// signals with a stable tie-break on provider order.
package ranking

import (
	"log/slog"

	"github.com/tablescout/tablescout/pkg/models"
)

// Origin identifies the distance anchor used for the distance signal.
type Origin string

// Distance origins in priority order.
const (
	OriginCityCenter   Origin = "CITY_CENTER"
	OriginUserLocation Origin = "USER_LOCATION"
	OriginNone         Origin = "NONE"
)

// DistanceAnchor is the resolved distance origin for one search.
type DistanceAnchor struct {
	Origin   Origin
	RefPoint *models.Coordinate // nil when Origin == NONE
	CityText string
}

// ResolveOrigin picks the distance anchor deterministically. An explicit
// city mention with a geocoded center always wins, even when a user
// location is present; otherwise the user location; otherwise no anchor.
func ResolveOrigin(intent *models.IntentDecision, mapping *models.RouteMapping, userLocation *models.Coordinate) DistanceAnchor {
	anchor := DistanceAnchor{Origin: OriginNone}

	switch {
	case intent != nil && intent.Reason == models.IntentExplicitCity &&
		intent.CityText != "" && mapping != nil && mapping.CityCenter != nil:
		anchor = DistanceAnchor{
			Origin:   OriginCityCenter,
			RefPoint: mapping.CityCenter,
			CityText: intent.CityText,
		}
	case userLocation != nil:
		anchor = DistanceAnchor{Origin: OriginUserLocation, RefPoint: userLocation}
	}

	intentReason := ""
	if intent != nil {
		intentReason = intent.Reason
	}
	attrs := []any{"origin", anchor.Origin, "intent_reason", intentReason}
	if anchor.RefPoint != nil {
		attrs = append(attrs, "ref_lat", anchor.RefPoint.Lat, "ref_lng", anchor.RefPoint.Lng)
	}
	if anchor.CityText != "" {
		attrs = append(attrs, "city_text", anchor.CityText)
	}
	slog.Info("ranking_distance_origin_selected", attrs...)

	return anchor
}
