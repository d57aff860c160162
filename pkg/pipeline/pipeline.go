// Package pipeline runs the staged search orchestration: gate, intent,
// filter extraction, route mapping, the place-provider call, cuisine
// enforcement, local constraints, ranking, and the assistant message.
// Every path ends in a terminal job status; push delivery is best-effort
// and can never fail a stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/lang"
	"github.com/tablescout/tablescout/pkg/llm"
	"github.com/tablescout/tablescout/pkg/models"
	"github.com/tablescout/tablescout/pkg/places"
	"github.com/tablescout/tablescout/pkg/push"
	"github.com/tablescout/tablescout/pkg/ranking"
	"github.com/tablescout/tablescout/pkg/version"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Progress milestones, written to the job record as stages complete.
const (
	milestoneGate        = 25
	milestoneIntent      = 40
	milestoneProvider    = 60
	milestoneConstraints = 75
	milestoneRanking     = 90
	milestoneDone        = 100
)

// geocodeBiasRadiusMeters is installed when route mapping names a city but
// supplies no bias of its own.
const geocodeBiasRadiusMeters = 10000

// relaxationFloor is the kept-set size under which STRICT cuisine
// enforcement may apply its single relaxation.
const relaxationFloor = 5

// ModelInvoker is the LLM call boundary. *llm.Client implements it.
type ModelInvoker interface {
	Invoke(ctx context.Context, purpose config.Purpose, prompt llm.Prompt, schema *jsonschema.Schema, out any, opts llm.Options) error
}

// PlaceSearcher is the place-provider boundary. *places.Client implements it.
type PlaceSearcher interface {
	TextSearch(ctx context.Context, in places.TextSearchInput) ([]models.Place, error)
	Geocode(ctx context.Context, cityText, regionCode string) (models.Coordinate, error)
}

// JobWriter is the job-store boundary the pipeline writes through.
type JobWriter interface {
	SetStatus(ctx context.Context, requestID string, status models.JobStatus, progress *int) error
	SetResult(ctx context.Context, requestID string, result *models.SearchResult) error
	SetError(ctx context.Context, requestID string, jobErr *models.JobError) error
	Touch(ctx context.Context, requestID string) error
}

// EventPublisher is the push boundary. *push.Publisher implements it.
type EventPublisher interface {
	PublishProgress(requestID, stage string, progress int, status string) push.Summary
	PublishAssistant(requestID, kind, text string, blocksSearch bool) push.Summary
	PublishStatus(requestID, status string, progress int) push.Summary
	PublishError(requestID, code, message string) push.Summary
	PublishDone(requestID, status string, returnedCount int) push.Summary
}

// Pipeline executes searches. One instance serves all jobs.
type Pipeline struct {
	log    *slog.Logger
	cfg    *config.Config
	model  ModelInvoker
	places PlaceSearcher
	jobs   JobWriter
	pub    EventPublisher
	engine *ranking.Engine
}

// New creates a pipeline.
func New(log *slog.Logger, cfg *config.Config, model ModelInvoker, searcher PlaceSearcher, jobs JobWriter, pub EventPublisher) *Pipeline {
	return &Pipeline{
		log:    log.With("component", "pipeline"),
		cfg:    cfg,
		model:  model,
		places: searcher,
		jobs:   jobs,
		pub:    pub,
		engine: ranking.NewEngine(cfg.Ranking),
	}
}

// Execute runs one search to its terminal state. It never returns an
// error; failures become DONE_FAILED records with a safe error payload.
func (p *Pipeline) Execute(ctx context.Context, requestID string, req *models.SearchRequest) {
	log := p.log.With("request_id", requestID)

	p.setStatus(ctx, requestID, models.StatusRunning, nil)
	p.publish(requestID, func() { p.pub.PublishStatus(requestID, string(models.StatusRunning), 0) })

	// Stage 1: gate.
	gate := p.runGate(ctx, req, log)
	p.milestone(ctx, requestID, "gate", milestoneGate)

	langCtx := p.resolveLanguage(req, gate, log)

	if !gate.IsPlaceQuery {
		assistant := p.composeBlocking(ctx, req, langCtx, models.AssistantGateFail, gate.Reply, log)
		p.finishNonFailure(ctx, requestID, assistant, 0, log)
		return
	}

	// Stage 2: intent.
	intent := p.runIntent(ctx, req, log)
	p.milestone(ctx, requestID, "intent", milestoneIntent)

	if intent.BlocksSearch {
		assistant := p.composeBlocking(ctx, req, langCtx, models.AssistantClarify, "", log)
		p.finishNonFailure(ctx, requestID, assistant, 0, log)
		return
	}

	// Stage 3: base filters. Extraction failure degrades to defaults.
	filters := p.runBaseFilters(ctx, req, log)
	p.touch(ctx, requestID)

	// Stage 4: route mapping.
	mapping, out := p.runRouteMapper(ctx, req, langCtx, intent, log)
	if out.terminal != nil {
		p.finishFailure(ctx, requestID, out.terminal, log)
		return
	}
	if out.fallbackReason != "" {
		log.Debug("stage_fallback", "stage", "route_mapper", "reason", out.fallbackReason)
	}
	p.installBias(ctx, mapping, log)
	p.touch(ctx, requestID)

	// Stage 5: provider call.
	fetched, out := p.runProvider(ctx, req, langCtx, mapping, log)
	if out.terminal != nil {
		p.finishFailure(ctx, requestID, out.terminal, log)
		return
	}
	p.milestone(ctx, requestID, "provider", milestoneProvider)

	// Stage 6: cuisine enforcement.
	kept := p.runCuisine(ctx, mapping, fetched, log)
	p.touch(ctx, requestID)

	// Stage 7: local post-constraints.
	kept = applyPostConstraints(kept, filters)
	p.milestone(ctx, requestID, "post_constraints", milestoneConstraints)

	// Stage 8: ranking.
	anchor := ranking.ResolveOrigin(intent, mapping, req.UserLocation)
	ranked, profileName := p.runRanking(ctx, req, kept, anchor, log)
	p.milestone(ctx, requestID, "ranking", milestoneRanking)

	// Stage 9: assistant message.
	assistant := p.runAssistant(ctx, req, langCtx, ranked, len(fetched), log)

	// Stage 10: finalize.
	result := &models.SearchResult{
		Places:    ranked,
		Assistant: assistant,
		Meta: models.ResultMeta{
			FetchedCount:     len(fetched),
			ReturnedCount:    len(ranked),
			RankingProfile:   profileName,
			DistanceOrigin:   string(anchor.Origin),
			ContractsVersion: version.Contracts,
		},
	}
	p.finishSuccess(ctx, requestID, result, log)
}

// --- stages ---

func (p *Pipeline) runGate(ctx context.Context, req *models.SearchRequest, log *slog.Logger) *gateReply {
	var reply gateReply
	system, user := gatePrompt(req)
	err := p.model.Invoke(ctx, config.PurposeGate, llm.Prompt{System: system, User: user}, gateSchema, &reply, llm.Options{})
	if err != nil {
		// Fail open: an unavailable gate must not block real searches.
		log.Warn("gate stage failed, continuing as place query", "error", err)
		return &gateReply{IsPlaceQuery: true}
	}
	return &reply
}

func (p *Pipeline) resolveLanguage(req *models.SearchRequest, gate *gateReply, log *slog.Logger) *lang.Context {
	langCtx, err := lang.Resolve(p.cfg.Region, lang.Input{
		RegionCode:      req.RegionCode,
		UILanguage:      req.UILanguage,
		QueryLanguage:   gate.QueryLanguage,
		QueryConfidence: gate.Confidence,
	})
	if err != nil {
		// Unreachable with a well-formed policy; fall back to the global
		// default rather than failing the search.
		log.Error("language context rejected", "error", err)
		return &lang.Context{SearchLanguage: "en", AssistantLanguage: "en"}
	}
	return langCtx
}

func (p *Pipeline) runIntent(ctx context.Context, req *models.SearchRequest, log *slog.Logger) *models.IntentDecision {
	var decision models.IntentDecision
	system, user := intentPrompt(req)
	err := p.model.Invoke(ctx, config.PurposeIntent, llm.Prompt{System: system, User: user}, intentSchema, &decision, llm.Options{})
	if err != nil {
		log.Warn("intent stage failed, using default text search", "error", err)
		return &models.IntentDecision{Reason: models.IntentDefaultTextQuery}
	}
	return &decision
}

func (p *Pipeline) runBaseFilters(ctx context.Context, req *models.SearchRequest, log *slog.Logger) *models.BaseFilters {
	var filters models.BaseFilters
	system, user := baseFiltersPrompt(req)
	err := p.model.Invoke(ctx, config.PurposeBaseFilters, llm.Prompt{System: system, User: user}, baseFiltersSchema, &filters, llm.Options{})
	if err != nil {
		log.Warn("base filters stage failed, using defaults", "error", err)
		return &models.BaseFilters{OpenState: "any", PriceIntent: "any"}
	}
	return &filters
}

func (p *Pipeline) runRouteMapper(ctx context.Context, req *models.SearchRequest, langCtx *lang.Context, intent *models.IntentDecision, log *slog.Logger) (*models.RouteMapping, outcome) {
	var mapping models.RouteMapping
	system, user := routeMapperPrompt(req, langCtx.SearchLanguage, intent)
	err := p.model.Invoke(ctx, config.PurposeRouteMapper, llm.Prompt{System: system, User: user}, routeMapperSchema, &mapping, llm.Options{})
	if err != nil {
		if llm.KindOf(err) == llm.KindProviderAuth {
			log.Error("route mapping fatal", "error", err)
			return nil, terminate(&terminalState{
				failed:  true,
				code:    models.ErrCodeLLMFatal,
				message: models.DefaultFailureMessage,
				errType: "llm",
			})
		}
		log.Warn("route mapping failed, using minimal mapping", "error", err)
		mapping = models.RouteMapping{
			ProviderMethod: models.MethodTextSearch,
			TextQuery:      req.Query,
			Region:         req.RegionCode,
			CityText:       intent.CityText,
			RequiredTerms:  []string{},
			PreferredTerms: []string{},
			Strictness:     models.StrictnessRelaxIfEmpty,
			TypeHint:       "any",
		}
		mapping.Language = langCtx.SearchLanguage
		return &mapping, fallback("route_mapper_default")
	}

	// The provider query language is the search language, whatever the
	// model put in the document.
	mapping.Language = langCtx.SearchLanguage
	return &mapping, success()
}

// installBias geocodes the mapped city when no bias came back from the
// model, so both the provider call and the distance anchor can use it.
func (p *Pipeline) installBias(ctx context.Context, mapping *models.RouteMapping, log *slog.Logger) {
	if mapping.CityText == "" || mapping.Bias != nil {
		return
	}
	center, err := p.places.Geocode(ctx, mapping.CityText, mapping.Region)
	if err != nil {
		log.Warn("geocode failed, continuing without bias",
			"city_text", mapping.CityText, "error", err)
		return
	}
	mapping.Bias = &models.LocationBias{Center: center, RadiusMeters: geocodeBiasRadiusMeters}
	mapping.CityCenter = &center
}

func (p *Pipeline) runProvider(ctx context.Context, req *models.SearchRequest, langCtx *lang.Context, mapping *models.RouteMapping, log *slog.Logger) ([]models.Place, outcome) {
	in := places.TextSearchInput{
		TextQuery:    mapping.TextQuery,
		RegionCode:   mapping.Region,
		LanguageCode: langCtx.SearchLanguage,
		Bias:         mapping.Bias,
		MaxResults:   p.cfg.Ranking.CandidatePoolSize,
	}
	// nearbySearch and landmarkPlan both execute as a biased text search;
	// the bias carries the "near" anchor.
	if mapping.ProviderMethod != models.MethodTextSearch && in.Bias == nil && req.UserLocation != nil {
		in.Bias = &models.LocationBias{Center: *req.UserLocation, RadiusMeters: geocodeBiasRadiusMeters}
	}

	fetched, err := p.places.TextSearch(ctx, in)
	if err != nil {
		code := models.ErrCodeProviderUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = models.ErrCodeProviderTimeout
		}
		log.Error("provider call failed", "error", err, "code", code)
		return nil, terminate(&terminalState{
			failed:  true,
			code:    code,
			message: models.DefaultFailureMessage,
			errType: "provider",
		})
	}
	return fetched, success()
}

func (p *Pipeline) runCuisine(ctx context.Context, mapping *models.RouteMapping, fetched []models.Place, log *slog.Logger) []models.Place {
	if len(mapping.RequiredTerms) == 0 || len(fetched) == 0 {
		return fetched
	}

	var reply cuisineReply
	system, user := cuisinePrompt(mapping, fetched)
	err := p.model.Invoke(ctx, config.PurposeCuisineEnforce, llm.Prompt{System: system, User: user}, cuisineSchema, &reply, llm.Options{})
	if err != nil {
		// Enforcement is non-blocking: on failure every candidate stays.
		log.Warn("cuisine enforcement failed, keeping all places", "error", err)
		return fetched
	}

	keep := make(map[string]bool, len(reply.KeepIDs))
	for _, id := range reply.KeepIDs {
		keep[id] = true
	}

	matched := make([]models.Place, 0, len(fetched))
	rest := make([]models.Place, 0, len(fetched))
	for _, place := range fetched {
		if keep[place.ID] {
			matched = append(matched, place)
		} else {
			rest = append(rest, place)
		}
	}

	if reply.Relaxation != "none" && reply.Relaxation != "" {
		log.Info("cuisine relaxation applied",
			"relaxation", reply.Relaxation, "kept", len(matched), "floor", relaxationFloor)
	}

	if mapping.Strictness == models.StrictnessStrict {
		return matched
	}
	// RELAX_IF_EMPTY: matches first, but nothing is dropped.
	return append(matched, rest...)
}

func applyPostConstraints(kept []models.Place, filters *models.BaseFilters) []models.Place {
	out := make([]models.Place, 0, len(kept))
	for _, p := range kept {
		if filters.OpenState == "open_now" && p.OpenNow != nil && !*p.OpenNow {
			continue
		}
		if filters.MinRatingBucket > 0 && p.Rating < float64(filters.MinRatingBucket) {
			continue
		}
		if !priceAllowed(p.PriceLevel, filters.PriceIntent) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// priceAllowed keeps places with an unknown price level regardless of the
// stated intent.
func priceAllowed(level int, intent string) bool {
	if level == 0 {
		return true
	}
	switch intent {
	case "cheap":
		return level <= 1
	case "mid":
		return level <= 2
	case "high":
		return level >= 3
	}
	return true
}

func (p *Pipeline) runRanking(ctx context.Context, req *models.SearchRequest, kept []models.Place, anchor ranking.DistanceAnchor, log *slog.Logger) ([]models.Place, string) {
	if len(kept) > p.cfg.Ranking.CandidatePoolSize {
		kept = kept[:p.cfg.Ranking.CandidatePoolSize]
	}

	if p.cfg.Ranking.DefaultMode != config.RankingModeLLMScore || !p.cfg.Ranking.LLMEnabled || len(kept) == 0 {
		return p.engine.PassThrough(kept, anchor), string(config.RankingModeGoogle)
	}

	var reply profileReply
	system, user := rankingProfilePrompt(req, string(anchor.Origin))
	err := p.model.Invoke(ctx, config.PurposeRankingProfile, llm.Prompt{System: system, User: user}, rankingProfileSchema, &reply, llm.Options{})
	if err != nil {
		log.Warn("ranking profile selection failed, preserving provider order", "error", err)
		return p.engine.PassThrough(kept, anchor), string(config.RankingModeGoogle)
	}

	profile, ok := p.cfg.Ranking.Profiles[reply.Profile]
	if !ok {
		log.Warn("unknown ranking profile, preserving provider order", "profile", reply.Profile)
		return p.engine.PassThrough(kept, anchor), string(config.RankingModeGoogle)
	}
	return p.engine.Rank(kept, profile, anchor), profile.Name
}

func (p *Pipeline) runAssistant(ctx context.Context, req *models.SearchRequest, langCtx *lang.Context, ranked []models.Place, fetched int, log *slog.Logger) models.AssistantMessage {
	var reply assistantReply
	system, user := assistantPrompt(req, langCtx.AssistantLanguage, ranked, fetched)
	err := p.model.Invoke(ctx, config.PurposeAssistant, llm.Prompt{System: system, User: user}, assistantSchema, &reply, llm.Options{})
	if err != nil {
		log.Warn("assistant stage failed, using default summary", "error", err)
		return models.AssistantMessage{
			Kind: models.AssistantSummary,
			Text: defaultSummaryText(langCtx.AssistantLanguage, len(ranked)),
		}
	}

	msg := models.AssistantMessage{
		Kind:         models.AssistantKind(reply.Kind),
		Text:         reply.Text,
		BlocksSearch: reply.BlocksSearch,
	}
	// A summary can never block the search; correct the document and flag
	// the prompt.
	if msg.Kind == models.AssistantSummary && msg.BlocksSearch {
		log.Warn("summary marked blocking, corrected",
			"severity", "PROMPT_VIOLATION", "purpose", config.PurposeAssistant)
		msg.BlocksSearch = false
	}
	return msg
}

// composeBlocking produces a CLARIFY or GATE_FAIL message via the
// assistant purpose, with a localized default on failure.
func (p *Pipeline) composeBlocking(ctx context.Context, req *models.SearchRequest, langCtx *lang.Context, kind models.AssistantKind, gateDraft string, log *slog.Logger) models.AssistantMessage {
	var system, user string
	if kind == models.AssistantClarify {
		system, user = clarifyPrompt(req, langCtx.AssistantLanguage)
	} else {
		system, user = gateFailPrompt(req, langCtx.AssistantLanguage, gateDraft)
	}

	var reply assistantReply
	err := p.model.Invoke(ctx, config.PurposeAssistant, llm.Prompt{System: system, User: user}, assistantSchema, &reply, llm.Options{})
	if err != nil {
		log.Warn("blocking assistant message failed, using default",
			"kind", kind, "error", err)
		return models.AssistantMessage{
			Kind:         kind,
			Text:         defaultBlockingText(langCtx.AssistantLanguage, kind),
			BlocksSearch: true,
		}
	}
	return models.AssistantMessage{Kind: kind, Text: reply.Text, BlocksSearch: true}
}

// ComposeNudge writes the refine nudge sent when a client runs out of
// revealed results. Errors surface to the caller, which owns the canned
// fallback.
func (p *Pipeline) ComposeNudge(ctx context.Context, uiLanguage string) (string, error) {
	var reply assistantReply
	system, user := nudgePrompt(uiLanguage)
	if err := p.model.Invoke(ctx, config.PurposeAssistant, llm.Prompt{System: system, User: user}, assistantSchema, &reply, llm.Options{}); err != nil {
		return "", err
	}
	if reply.Text == "" {
		return "", errors.New("empty nudge text")
	}
	return reply.Text, nil
}

// --- terminal writes ---

func (p *Pipeline) finishSuccess(ctx context.Context, requestID string, result *models.SearchResult, log *slog.Logger) {
	if err := p.jobs.SetResult(ctx, requestID, result); err != nil {
		// The terminal status still lands; readers surface RESULT_MISSING.
		log.Error("result write failed", "error", err)
	}
	p.setStatus(ctx, requestID, models.StatusDoneSuccess, intPtr(milestoneDone))

	p.publish(requestID, func() {
		p.pub.PublishAssistant(requestID, string(result.Assistant.Kind), result.Assistant.Text, result.Assistant.BlocksSearch)
	})
	p.publish(requestID, func() {
		p.pub.PublishDone(requestID, string(models.StatusDoneSuccess), len(result.Places))
	})
	log.Info("search completed",
		"returned", len(result.Places), "profile", result.Meta.RankingProfile)
}

// finishNonFailure ends the pipeline without places (gate rejection or
// clarify). The job is DONE_SUCCESS: nothing went wrong, there is just
// nothing to list.
func (p *Pipeline) finishNonFailure(ctx context.Context, requestID string, assistant models.AssistantMessage, fetched int, log *slog.Logger) {
	result := &models.SearchResult{
		Places:    []models.Place{},
		Assistant: assistant,
		Meta: models.ResultMeta{
			FetchedCount:     fetched,
			RankingProfile:   string(config.RankingModeGoogle),
			DistanceOrigin:   string(ranking.OriginNone),
			ContractsVersion: version.Contracts,
		},
	}
	if err := p.jobs.SetResult(ctx, requestID, result); err != nil {
		log.Error("result write failed", "error", err)
	}
	p.setStatus(ctx, requestID, models.StatusDoneSuccess, intPtr(milestoneDone))

	p.publish(requestID, func() {
		p.pub.PublishAssistant(requestID, string(assistant.Kind), assistant.Text, assistant.BlocksSearch)
	})
	p.publish(requestID, func() {
		p.pub.PublishDone(requestID, string(models.StatusDoneSuccess), 0)
	})
	log.Info("search ended without results", "kind", assistant.Kind)
}

func (p *Pipeline) finishFailure(ctx context.Context, requestID string, t *terminalState, log *slog.Logger) {
	if err := p.jobs.SetError(ctx, requestID, &models.JobError{
		Code: t.code, Message: t.message, ErrorType: t.errType,
	}); err != nil {
		log.Error("error write failed", "error", err)
	}
	p.setStatus(ctx, requestID, models.StatusDoneFailed, nil)

	p.publish(requestID, func() { p.pub.PublishError(requestID, t.code, t.message) })
	log.Info("search failed", "code", t.code, "error_type", t.errType)
}

// --- cross-cutting helpers ---

// milestone records a progress milestone and publishes it. Store failures
// on non-terminal writes are logged and ignored.
func (p *Pipeline) milestone(ctx context.Context, requestID, stage string, progress int) {
	p.setStatus(ctx, requestID, models.StatusRunning, intPtr(progress))
	p.publish(requestID, func() {
		p.pub.PublishProgress(requestID, stage, progress, string(models.StatusRunning))
	})
}

func (p *Pipeline) setStatus(ctx context.Context, requestID string, status models.JobStatus, progress *int) {
	if err := p.jobs.SetStatus(ctx, requestID, status, progress); err != nil {
		p.log.Warn("store_error",
			"request_id", requestID, "status", status, "error", err)
	}
}

// touch heartbeats the record between milestones so a long stage does not
// trip stale-running reclamation.
func (p *Pipeline) touch(ctx context.Context, requestID string) {
	if err := p.jobs.Touch(ctx, requestID); err != nil {
		p.log.Warn("store_error", "request_id", requestID, "error", err)
	}
}

// publish is the error barrier between the pipeline and push delivery: a
// panicking or broken publisher is logged and discarded, never propagated.
func (p *Pipeline) publish(requestID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("ws_publish_error",
				"request_id", requestID, "error", fmt.Sprint(r))
		}
	}()
	fn()
}

func defaultSummaryText(language string, count int) string {
	if language == "he" {
		if count == 0 {
			return "לא נמצאו מקומות מתאימים. נסו להרחיב את החיפוש."
		}
		return fmt.Sprintf("נמצאו %d מקומות בשבילך.", count)
	}
	if count == 0 {
		return "No matching places found. Try broadening your search."
	}
	return fmt.Sprintf("Found %d places for you.", count)
}

func defaultBlockingText(language string, kind models.AssistantKind) string {
	if kind == models.AssistantClarify {
		if language == "he" {
			return "אפשר לדייק? איזה סוג אוכל או איזה אזור?"
		}
		return "Could you be more specific? What kind of food, or where?"
	}
	if language == "he" {
		return "אני עוזר למצוא מסעדות ומקומות לאכול. נסו לשאול על אוכל או מקום."
	}
	return "I help find restaurants and places to eat. Try asking about food or a place."
}

func intPtr(v int) *int { return &v }
