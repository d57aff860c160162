package pipeline

import (
	"fmt"
	"strings"

	"github.com/tablescout/tablescout/pkg/models"
)

const replyJSONOnly = "Reply with a single JSON object matching the requested shape. No prose, no markdown."

func gatePrompt(req *models.SearchRequest) (string, string) {
	system := "You are the gate of a restaurant-search service. Decide whether the " +
		"user's text is a query about food, drink, or places to eat (restaurants, " +
		"cafes, bars, street food, delivery). Detect the query language (ISO 639-1) " +
		"and your confidence in that detection. If it is not a place query, write a " +
		"short polite reply in the query's language explaining what this service does. " +
		replyJSONOnly
	return system, fmt.Sprintf("Query: %q\nRegion: %s", req.Query, req.RegionCode)
}

func intentPrompt(req *models.SearchRequest) (string, string) {
	system := "Extract the location intent of a restaurant-search query. " +
		"reason is \"explicit_city_mentioned\" only when the text names a specific " +
		"city or town; then put the city name (as written) into city_text. Otherwise " +
		"reason is \"default_textsearch\" with an empty city_text. Set blocks_search " +
		"true only when the query is too ambiguous to search at all (then the user " +
		"will be asked to clarify). " + replyJSONOnly
	user := fmt.Sprintf("Query: %q\nRegion: %s\nUser location present: %t",
		req.Query, req.RegionCode, req.UserLocation != nil)
	return system, user
}

func baseFiltersPrompt(req *models.SearchRequest) (string, string) {
	system := "Extract soft filters from a restaurant-search query. open_state is " +
		"\"open_now\" only on an explicit now/currently-open request. price_intent " +
		"reflects wording like cheap/fancy. min_rating_bucket is 4 for \"best/top " +
		"rated\", 3 for \"good\", otherwise 0. language is the query's language " +
		"(ISO 639-1). " + replyJSONOnly
	return system, fmt.Sprintf("Query: %q", req.Query)
}

func routeMapperPrompt(req *models.SearchRequest, searchLanguage string, intent *models.IntentDecision) (string, string) {
	system := "Map a restaurant-search query onto a place-provider call. " +
		"text_query is the provider query written in the given search language. " +
		"provider_method: textSearch for general queries, nearbySearch when the user " +
		"wants places around their location, landmarkPlan when the query anchors on " +
		"a landmark. Fill city_text when a city is named; leave bias and city_center " +
		"null unless the query itself implies coordinates. required_terms are cuisine " +
		"terms the results must match, preferred_terms are nice-to-have; strictness " +
		"STRICT only for emphatic cuisine demands. Every property must be present. " +
		replyJSONOnly
	user := fmt.Sprintf("Query: %q\nRegion: %s\nSearch language: %s\nIntent reason: %s\nIntent city: %q",
		req.Query, req.RegionCode, searchLanguage, intent.Reason, intent.CityText)
	return system, user
}

func cuisinePrompt(mapping *models.RouteMapping, places []models.Place) (string, string) {
	system := "Filter place candidates by cuisine. keep_ids lists the ids of places " +
		"that match the required terms. Under STRICT strictness keep only strong " +
		"matches, but if that keeps fewer than 5 places you may apply exactly one " +
		"relaxation: \"fallback_preferred\" (also keep preferred-term matches) or " +
		"\"drop_required_once\" (drop the weakest required term); report which one " +
		"you used, else \"none\". Under RELAX_IF_EMPTY never return an empty keep " +
		"list if any candidate is plausible. " + replyJSONOnly

	var b strings.Builder
	fmt.Fprintf(&b, "Required terms: %s\nPreferred terms: %s\nStrictness: %s\nCandidates:\n",
		strings.Join(mapping.RequiredTerms, ", "),
		strings.Join(mapping.PreferredTerms, ", "),
		mapping.Strictness)
	for _, p := range places {
		fmt.Fprintf(&b, "- id=%s name=%q types=%s\n", p.ID, p.Name, strings.Join(p.Types, ","))
	}
	return system, b.String()
}

func rankingProfilePrompt(req *models.SearchRequest, anchorOrigin string) (string, string) {
	system := "Pick the ranking profile for a restaurant search. DISTANCE_FOCUSED " +
		"when proximity wording dominates (\"near me\", \"closest\", a named " +
		"neighborhood), QUALITY_FOCUSED when the user asks for the best or top " +
		"rated, otherwise BALANCED. " + replyJSONOnly
	user := fmt.Sprintf("Query: %q\nDistance anchor: %s", req.Query, anchorOrigin)
	return system, user
}

func assistantPrompt(req *models.SearchRequest, assistantLanguage string, kept []models.Place, fetched int) (string, string) {
	system := "Compose the assistant message shown next to restaurant-search " +
		"results, in the given language. With results: a one-or-two sentence SUMMARY " +
		"of what was found (count, standouts); it never blocks the search. With zero " +
		"results: a SUMMARY suggesting how to broaden the query. " + replyJSONOnly

	sample := kept
	if len(sample) > 5 {
		sample = sample[:5]
	}
	names := make([]string, 0, len(sample))
	for _, p := range sample {
		names = append(names, p.Name)
	}
	user := fmt.Sprintf("Language: %s\nQuery: %q\nFetched: %d\nReturned: %d\nTop names: %s",
		assistantLanguage, req.Query, fetched, len(kept), strings.Join(names, "; "))
	return system, user
}

func nudgePrompt(uiLanguage string) (string, string) {
	system := "The user has revealed every result of a restaurant search. Write a " +
		"one-sentence NUDGE_REFINE message in the given language inviting them to " +
		"refine the query (cuisine, area, price). blocks_search must be false. " +
		replyJSONOnly
	return system, fmt.Sprintf("Language: %s", uiLanguage)
}

func clarifyPrompt(req *models.SearchRequest, assistantLanguage string) (string, string) {
	system := "The user's restaurant-search query is too ambiguous to run. Write a " +
		"short CLARIFY question in the given language asking for the missing detail " +
		"(what kind of food, or where). blocks_search must be true. " + replyJSONOnly
	return system, fmt.Sprintf("Language: %s\nQuery: %q", assistantLanguage, req.Query)
}

func gateFailPrompt(req *models.SearchRequest, assistantLanguage, gateReply string) (string, string) {
	system := "The user's text is not a food or place query. Write a short GATE_FAIL " +
		"message in the given language explaining this service finds restaurants and " +
		"places to eat. blocks_search must be true. " + replyJSONOnly
	return system, fmt.Sprintf("Language: %s\nQuery: %q\nGate draft: %q",
		assistantLanguage, req.Query, gateReply)
}
