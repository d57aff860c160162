// Package models contains request/response models and business domain types
// shared across the search pipeline, stores, and API surface.
package models

import "time"

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SearchRequest is the normalized input to a search job.
type SearchRequest struct {
	Query        string      `json:"query"`
	UserLocation *Coordinate `json:"user_location,omitempty"`
	RegionCode   string      `json:"region_code"`          // ISO 3166-1 alpha-2
	UILanguage   string      `json:"ui_language,omitempty"` // advisory only
	SessionHash  string      `json:"session_hash"`
	UserHash     string      `json:"user_hash,omitempty"`
	SubmittedAt  time.Time   `json:"submitted_at"`
}

// JobStatus is the lifecycle state of a search job. Transitions form a DAG:
// PENDING → RUNNING → {DONE_SUCCESS, DONE_FAILED}; no back-edges.
type JobStatus string

// Job lifecycle states.
const (
	StatusPending     JobStatus = "PENDING"
	StatusRunning     JobStatus = "RUNNING"
	StatusDoneSuccess JobStatus = "DONE_SUCCESS"
	StatusDoneFailed  JobStatus = "DONE_FAILED"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == StatusDoneSuccess || s == StatusDoneFailed
}

// Valid reports whether s is a known status. The legacy "FAILED" spelling is
// rejected on writes; NormalizeStatus accepts it on reads.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDoneSuccess, StatusDoneFailed:
		return true
	}
	return false
}

// NormalizeStatus maps legacy spellings found in old records onto the
// canonical set. Unknown values are returned unchanged.
func NormalizeStatus(s JobStatus) JobStatus {
	if s == "FAILED" {
		return StatusDoneFailed
	}
	return s
}

// JobError carries the failure detail of a DONE_FAILED job. Any field may be
// empty on the wire; readers substitute defaults.
type JobError struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// JobRecord is the durable state of one search job, stored under
// job:{request_id} with a TTL of at least 24h.
type JobRecord struct {
	RequestID   string        `json:"request_id"`
	Fingerprint string        `json:"fingerprint"`
	Status      JobStatus     `json:"status"`
	Progress    int           `json:"progress"` // monotonic, 0..100
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	OwnerSession string       `json:"owner_session_hash,omitempty"`
	OwnerUser    string       `json:"owner_user_hash,omitempty"`
	Error       *JobError     `json:"error,omitempty"`
	Result      *SearchResult `json:"result,omitempty"`
}

// Anonymous reports whether the job has no owning session. Pending socket
// subscriptions for anonymous jobs activate without ownership verification.
func (r *JobRecord) Anonymous() bool { return r.OwnerSession == "" }

// Place is a provider-returned place record. Immutable once fetched.
type Place struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Rating          float64    `json:"rating"`
	UserRatingCount int        `json:"user_rating_count"`
	Address         string     `json:"address"`
	Types           []string   `json:"types,omitempty"`
	Location        Coordinate `json:"location"`
	PriceLevel      int        `json:"price_level,omitempty"`
	OpenNow         *bool      `json:"open_now,omitempty"`
	// DistanceMeters is filled by ranking when a distance origin exists;
	// nil when the origin is NONE.
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

// AssistantKind classifies the assistant-side conversational message.
type AssistantKind string

// Assistant message kinds.
const (
	AssistantClarify     AssistantKind = "CLARIFY"
	AssistantSummary     AssistantKind = "SUMMARY"
	AssistantGateFail    AssistantKind = "GATE_FAIL"
	AssistantNudgeRefine AssistantKind = "NUDGE_REFINE"
)

// AssistantMessage is the conversational message returned alongside (or
// instead of) places. SUMMARY must carry BlocksSearch=false; the pipeline
// corrects and logs violations.
type AssistantMessage struct {
	Kind         AssistantKind `json:"kind"`
	Text         string        `json:"text"`
	BlocksSearch bool          `json:"blocks_search"`
}

// ResultMeta describes how a result set was produced.
type ResultMeta struct {
	FetchedCount     int    `json:"fetched_count"`
	ReturnedCount    int    `json:"returned_count"`
	RankingProfile   string `json:"ranking_profile"`
	DistanceOrigin   string `json:"distance_origin"`
	ContractsVersion string `json:"contracts_version"`
	IsStale          bool   `json:"is_stale,omitempty"`
}

// SearchResult is the terminal payload of a successful search job.
type SearchResult struct {
	Places    []Place          `json:"places"`
	Assistant AssistantMessage `json:"assistant"`
	Meta      ResultMeta       `json:"meta"`
}

// Intent reasons from the intent extraction stage.
const (
	IntentExplicitCity     = "explicit_city_mentioned"
	IntentDefaultTextQuery = "default_textsearch"
)

// IntentDecision is the output of the intent stage.
type IntentDecision struct {
	Reason       string `json:"reason"`
	CityText     string `json:"city_text,omitempty"`
	BlocksSearch bool   `json:"blocks_search,omitempty"`
}

// BaseFilters are the soft constraints extracted before routing. All fields
// have safe zero values so an extraction failure degrades to defaults.
type BaseFilters struct {
	OpenState       string `json:"open_state,omitempty"`        // "open_now", "any"
	Language        string `json:"language,omitempty"`          // detected query language
	PriceIntent     string `json:"price_intent,omitempty"`      // "cheap", "mid", "high", "any"
	MinRatingBucket int    `json:"min_rating_bucket,omitempty"` // 0, 3, 4
}

// Provider methods a RouteMapping may select.
const (
	MethodTextSearch   = "textSearch"
	MethodNearbySearch = "nearbySearch"
	MethodLandmarkPlan = "landmarkPlan"
)

// Cuisine-enforcement strictness values.
const (
	StrictnessStrict       = "STRICT"
	StrictnessRelaxIfEmpty = "RELAX_IF_EMPTY"
)

// LocationBias biases a provider text search around a center point.
type LocationBias struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
}

// RouteMapping is the canonical place-provider query produced by the
// route-mapping stage. Every property is required in the model's returned
// document; the schema keeps property-set and required-set in sync.
type RouteMapping struct {
	ProviderMethod string        `json:"provider_method"`
	TextQuery      string        `json:"text_query"`
	Region         string        `json:"region"`
	Language       string        `json:"language"` // always the search language
	Bias           *LocationBias `json:"bias,omitempty"`
	CityText       string        `json:"city_text,omitempty"`
	CityCenter     *Coordinate   `json:"city_center,omitempty"`
	RequiredTerms  []string      `json:"required_terms"`
	PreferredTerms []string      `json:"preferred_terms"`
	Strictness     string        `json:"strictness"`
	TypeHint       string        `json:"type_hint"` // restaurant, cafe, bar, any
}
