package ranking

import (
	"log/slog"
	"math"
	"sort"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/models"
)

const earthRadiusMeters = 6371000.0

// openBoostValue is the fixed bonus for places known to be open now.
const openBoostValue = 0.1

// scored pairs a place with its computed score and original index. The
// original provider index is the tie-break, preserving provider order for
// equal scores.
type scored struct {
	place models.Place
	score float64
	index int
}

// Engine ranks places under a weight profile.
type Engine struct {
	cfg *config.RankingConfig
}

// NewEngine creates a ranking engine.
func NewEngine(cfg *config.RankingConfig) *Engine {
	return &Engine{cfg: cfg}
}

// PassThrough returns places in provider order (GOOGLE mode), still filling
// distance fields when an anchor exists.
func (e *Engine) PassThrough(places []models.Place, anchor DistanceAnchor) []models.Place {
	out := make([]models.Place, len(places))
	copy(out, places)
	if anchor.RefPoint != nil {
		for i := range out {
			d := Haversine(*anchor.RefPoint, out[i].Location)
			out[i].DistanceMeters = &d
		}
	}
	return out
}

// Rank scores places under the profile's weights and returns them in
// descending score order with a stable tie-break on input index. When the
// anchor origin is NONE the distance weight contributes nothing and
// distance fields stay nil.
func (e *Engine) Rank(places []models.Place, profile config.RankingProfile, anchor DistanceAnchor) []models.Place {
	if len(places) == 0 {
		return nil
	}

	weights := profile.Weights
	if anchor.RefPoint == nil {
		weights.Distance = 0
	}

	maxCount := 0
	for _, p := range places {
		if p.UserRatingCount > maxCount {
			maxCount = p.UserRatingCount
		}
	}
	reviewsDenom := math.Log10(1 + float64(maxCount))

	entries := make([]scored, len(places))
	for i, p := range places {
		if anchor.RefPoint != nil {
			d := Haversine(*anchor.RefPoint, p.Location)
			p.DistanceMeters = &d
		}
		entries[i] = scored{place: p, score: e.score(p, weights, reviewsDenom), index: i}
	}

	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].score != entries[b].score {
			return entries[a].score > entries[b].score
		}
		return entries[a].index < entries[b].index
	})

	out := make([]models.Place, len(entries))
	for i, s := range entries {
		out[i] = s.place
	}

	e.logOrders(places, out, profile.Name, entries)
	return out
}

// score computes the weighted sum over the four signals.
func (e *Engine) score(p models.Place, w config.RankingWeights, reviewsDenom float64) float64 {
	rating := p.Rating / 5.0

	reviews := 0.0
	if reviewsDenom > 0 {
		reviews = math.Log10(1+float64(p.UserRatingCount)) / reviewsDenom
	}

	distance := 0.0
	if w.Distance > 0 && p.DistanceMeters != nil {
		distance = math.Max(0, 1-*p.DistanceMeters/e.cfg.MaxDistanceMeters)
	}

	open := 0.0
	if p.OpenNow != nil && *p.OpenNow {
		open = openBoostValue
	}

	return w.Rating*rating + w.Reviews*reviews + w.Distance*distance + w.OpenBoost*open
}

// logOrders emits the ranking observability events for the top ten places.
func (e *Engine) logOrders(input, output []models.Place, profile string, entries []scored) {
	slog.Debug("ranking_input_order", "profile", profile, "place_ids", topIDs(input))
	slog.Debug("ranking_output_order", "profile", profile, "place_ids", topIDs(output))

	n := len(entries)
	if n > 10 {
		n = 10
	}
	breakdown := make([]map[string]any, 0, n)
	for _, s := range entries[:n] {
		item := map[string]any{"place_id": s.place.ID, "score": s.score}
		if s.place.DistanceMeters != nil {
			item["distance_meters"] = *s.place.DistanceMeters
		}
		breakdown = append(breakdown, item)
	}
	slog.Debug("ranking_score_breakdown", "profile", profile, "top", breakdown)
}

func topIDs(places []models.Place) []string {
	n := len(places)
	if n > 10 {
		n = 10
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = places[i].ID
	}
	return ids
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
