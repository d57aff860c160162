package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// coordGrid is the rounding granularity for the user coordinate inside the
// fingerprint: 3 decimal places ≈ 110m, coarse enough that GPS jitter does
// not defeat deduplication.
const coordGrid = 1000.0

// Fingerprint derives the deterministic idempotency fingerprint for a
// request. Equal-fingerprint submits are candidates for dedup reuse, so the
// hash covers only the fields that change the search outcome: normalized
// query, rounded coordinate, region, and session. UI language is advisory
// and deliberately excluded.
func Fingerprint(req *SearchRequest) string {
	var b strings.Builder
	b.WriteString(normalizeQuery(req.Query))
	b.WriteByte('|')
	if req.UserLocation != nil {
		fmt.Fprintf(&b, "%.3f,%.3f",
			roundCoord(req.UserLocation.Lat), roundCoord(req.UserLocation.Lng))
	}
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(req.RegionCode))
	b.WriteByte('|')
	b.WriteString(req.SessionHash)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func roundCoord(v float64) float64 {
	if v < 0 {
		return float64(int64(v*coordGrid-0.5)) / coordGrid
	}
	return float64(int64(v*coordGrid+0.5)) / coordGrid
}

// normalizeQuery lowercases and collapses internal whitespace so trivially
// different spellings of the same query share a fingerprint.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
