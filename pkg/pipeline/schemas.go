package pipeline

import (
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tablescout/tablescout/pkg/llm"
)

// Reply schemas, one per LLM purpose. Schema-constrained model APIs demand
// that every declared property also appears in required[]; keep the two
// sets in sync whenever a property is added, or the provider rejects the
// reply outright.

var gateSchema = mustSchema("gate.json", `{
  "type": "object",
  "properties": {
    "is_place_query": {"type": "boolean"},
    "query_language": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reply": {"type": "string"}
  },
  "required": ["is_place_query", "query_language", "confidence", "reply"],
  "additionalProperties": false
}`)

var intentSchema = mustSchema("intent.json", `{
  "type": "object",
  "properties": {
    "reason": {"type": "string", "enum": ["explicit_city_mentioned", "default_textsearch"]},
    "city_text": {"type": "string"},
    "blocks_search": {"type": "boolean"}
  },
  "required": ["reason", "city_text", "blocks_search"],
  "additionalProperties": false
}`)

var baseFiltersSchema = mustSchema("base_filters.json", `{
  "type": "object",
  "properties": {
    "open_state": {"type": "string", "enum": ["open_now", "any"]},
    "language": {"type": "string"},
    "price_intent": {"type": "string", "enum": ["cheap", "mid", "high", "any"]},
    "min_rating_bucket": {"type": "integer", "enum": [0, 3, 4]}
  },
  "required": ["open_state", "language", "price_intent", "min_rating_bucket"],
  "additionalProperties": false
}`)

var routeMapperSchema = mustSchema("route_mapper.json", `{
  "type": "object",
  "properties": {
    "provider_method": {"type": "string", "enum": ["textSearch", "nearbySearch", "landmarkPlan"]},
    "text_query": {"type": "string"},
    "region": {"type": "string"},
    "language": {"type": "string"},
    "bias": {
      "type": ["object", "null"],
      "properties": {
        "center": {
          "type": "object",
          "properties": {
            "lat": {"type": "number"},
            "lng": {"type": "number"}
          },
          "required": ["lat", "lng"],
          "additionalProperties": false
        },
        "radius_meters": {"type": "number"}
      },
      "required": ["center", "radius_meters"],
      "additionalProperties": false
    },
    "city_text": {"type": "string"},
    "city_center": {
      "type": ["object", "null"],
      "properties": {
        "lat": {"type": "number"},
        "lng": {"type": "number"}
      },
      "required": ["lat", "lng"],
      "additionalProperties": false
    },
    "required_terms": {"type": "array", "items": {"type": "string"}},
    "preferred_terms": {"type": "array", "items": {"type": "string"}},
    "strictness": {"type": "string", "enum": ["STRICT", "RELAX_IF_EMPTY"]},
    "type_hint": {"type": "string", "enum": ["restaurant", "cafe", "bar", "any"]}
  },
  "required": [
    "provider_method", "text_query", "region", "language", "bias",
    "city_text", "city_center", "required_terms", "preferred_terms",
    "strictness", "type_hint"
  ],
  "additionalProperties": false
}`)

var cuisineSchema = mustSchema("cuisine_enforcer.json", `{
  "type": "object",
  "properties": {
    "keep_ids": {"type": "array", "items": {"type": "string"}},
    "relaxation": {"type": "string", "enum": ["none", "fallback_preferred", "drop_required_once"]}
  },
  "required": ["keep_ids", "relaxation"],
  "additionalProperties": false
}`)

var rankingProfileSchema = mustSchema("ranking_profile.json", `{
  "type": "object",
  "properties": {
    "profile": {"type": "string", "enum": ["QUALITY_FOCUSED", "DISTANCE_FOCUSED", "BALANCED"]}
  },
  "required": ["profile"],
  "additionalProperties": false
}`)

var assistantSchema = mustSchema("assistant.json", `{
  "type": "object",
  "properties": {
    "kind": {"type": "string", "enum": ["CLARIFY", "SUMMARY", "GATE_FAIL"]},
    "text": {"type": "string"},
    "blocks_search": {"type": "boolean"}
  },
  "required": ["kind", "text", "blocks_search"],
  "additionalProperties": false
}`)

func mustSchema(name, doc string) *jsonschema.Schema {
	return llm.MustCompileSchema(name, doc)
}
