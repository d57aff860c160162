package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/models"
)

var (
	telAviv  = models.Coordinate{Lat: 32.0853, Lng: 34.7818}
	ashkelon = models.Coordinate{Lat: 31.669, Lng: 34.571}
)

func boolPtr(b bool) *bool { return &b }

func testPlaces() []models.Place {
	return []models.Place{
		{ID: "far-great", Name: "Far Great", Rating: 4.9, UserRatingCount: 2000,
			Location: models.Coordinate{Lat: 32.2, Lng: 34.9}},
		{ID: "near-ok", Name: "Near OK", Rating: 3.8, UserRatingCount: 150,
			Location: models.Coordinate{Lat: 32.086, Lng: 34.782}, OpenNow: boolPtr(true)},
		{ID: "near-good", Name: "Near Good", Rating: 4.4, UserRatingCount: 600,
			Location: models.Coordinate{Lat: 32.09, Lng: 34.78}},
	}
}

func TestResolveOrigin_Priority(t *testing.T) {
	user := &telAviv
	cityMapping := &models.RouteMapping{CityCenter: &ashkelon}

	t.Run("explicit city beats user location", func(t *testing.T) {
		intent := &models.IntentDecision{Reason: models.IntentExplicitCity, CityText: "אשקלון"}
		anchor := ResolveOrigin(intent, cityMapping, user)
		assert.Equal(t, OriginCityCenter, anchor.Origin)
		assert.Equal(t, &ashkelon, anchor.RefPoint)
		assert.Equal(t, "אשקלון", anchor.CityText)
	})

	t.Run("city reason without geocode falls to user location", func(t *testing.T) {
		intent := &models.IntentDecision{Reason: models.IntentExplicitCity, CityText: "Ashkelon"}
		anchor := ResolveOrigin(intent, &models.RouteMapping{}, user)
		assert.Equal(t, OriginUserLocation, anchor.Origin)
		assert.Equal(t, user, anchor.RefPoint)
	})

	t.Run("user location when no city", func(t *testing.T) {
		intent := &models.IntentDecision{Reason: models.IntentDefaultTextQuery}
		anchor := ResolveOrigin(intent, cityMapping, user)
		assert.Equal(t, OriginUserLocation, anchor.Origin)
	})

	t.Run("none when nothing available", func(t *testing.T) {
		anchor := ResolveOrigin(nil, nil, nil)
		assert.Equal(t, OriginNone, anchor.Origin)
		assert.Nil(t, anchor.RefPoint)
	})
}

func TestRank_DistanceFocused(t *testing.T) {
	e := NewEngine(config.DefaultRankingConfig())
	profile := config.DefaultRankingConfig().Profiles[config.ProfileDistanceFocused]
	anchor := DistanceAnchor{Origin: OriginUserLocation, RefPoint: &telAviv}

	out := e.Rank(testPlaces(), profile, anchor)

	assert.Len(t, out, 3)
	assert.Equal(t, "near-ok", out[0].ID, "nearest open place should lead under distance weights")
	for _, p := range out {
		assert.NotNil(t, p.DistanceMeters)
	}
}

func TestRank_QualityFocused(t *testing.T) {
	e := NewEngine(config.DefaultRankingConfig())
	profile := config.DefaultRankingConfig().Profiles[config.ProfileQualityFocused]
	anchor := DistanceAnchor{Origin: OriginUserLocation, RefPoint: &telAviv}

	out := e.Rank(testPlaces(), profile, anchor)
	assert.Equal(t, "far-great", out[0].ID)
}

func TestRank_NoAnchorZeroesDistance(t *testing.T) {
	e := NewEngine(config.DefaultRankingConfig())
	profile := config.DefaultRankingConfig().Profiles[config.ProfileDistanceFocused]

	out := e.Rank(testPlaces(), profile, DistanceAnchor{Origin: OriginNone})

	for _, p := range out {
		assert.Nil(t, p.DistanceMeters, "distance fields must stay null without an anchor")
	}
	// With distance weight zeroed, quality signals decide.
	assert.Equal(t, "far-great", out[0].ID)
}

func TestRank_StableTieBreak(t *testing.T) {
	e := NewEngine(config.DefaultRankingConfig())
	profile := config.RankingProfile{Name: "flat"} // all weights zero → all scores equal

	places := testPlaces()
	out := e.Rank(places, profile, DistanceAnchor{Origin: OriginNone})

	for i := range places {
		assert.Equal(t, places[i].ID, out[i].ID, "equal scores must preserve provider order")
	}
}

func TestPassThrough_PreservesOrder(t *testing.T) {
	e := NewEngine(config.DefaultRankingConfig())
	places := testPlaces()

	out := e.PassThrough(places, DistanceAnchor{Origin: OriginUserLocation, RefPoint: &telAviv})

	for i := range places {
		assert.Equal(t, places[i].ID, out[i].ID)
		assert.NotNil(t, out[i].DistanceMeters)
	}
}

func TestHaversine_KnownDistance(t *testing.T) {
	// Tel Aviv ↔ Ashkelon is roughly 50km.
	d := Haversine(telAviv, ashkelon)
	assert.InDelta(t, 50000, d, 5000)

	assert.Zero(t, Haversine(telAviv, telAviv))
}
