package config

import (
	"fmt"
	"time"
)

// Purpose identifies one of the closed set of LLM call sites. Each purpose
// carries its own timeout and default model.
type Purpose string

// The closed purpose set. Adding a purpose requires a timeout entry in
// DefaultLLMConfig and a schema in pkg/pipeline.
const (
	PurposeGate           Purpose = "gate"
	PurposeIntent         Purpose = "intent"
	PurposeBaseFilters    Purpose = "baseFilters"
	PurposeRouteMapper    Purpose = "routeMapper"
	PurposeCuisineEnforce Purpose = "cuisineEnforcer"
	PurposeRankingProfile Purpose = "rankingProfile"
	PurposeAssistant      Purpose = "assistant"
)

// AllPurposes lists every recognized purpose, for validation.
var AllPurposes = []Purpose{
	PurposeGate, PurposeIntent, PurposeBaseFilters, PurposeRouteMapper,
	PurposeCuisineEnforce, PurposeRankingProfile, PurposeAssistant,
}

// LLMConfig holds model selection and per-purpose deadlines for the LLM
// client.
type LLMConfig struct {
	// Model is the default model identifier for all purposes.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable that carries the provider
	// API key. The key itself is never stored in config.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeouts maps purpose → call deadline.
	Timeouts map[Purpose]time.Duration `yaml:"timeouts"`

	// SlowThreshold elevates llm_end log events from debug to info when a
	// call exceeds it.
	SlowThreshold time.Duration `yaml:"slow_threshold"`

	// MaxRetries is the number of additional attempts on retriable errors.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay seeds the capped exponential backoff between attempts.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// DefaultLLMConfig returns the built-in LLM client defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:     "claude-sonnet-4-5",
		APIKeyEnv: "ANTHROPIC_API_KEY",
		Timeouts: map[Purpose]time.Duration{
			PurposeGate:           3500 * time.Millisecond,
			PurposeIntent:         2500 * time.Millisecond,
			PurposeBaseFilters:    4500 * time.Millisecond,
			PurposeRouteMapper:    3500 * time.Millisecond,
			PurposeCuisineEnforce: 4000 * time.Millisecond,
			PurposeRankingProfile: 2500 * time.Millisecond,
			PurposeAssistant:      3000 * time.Millisecond,
		},
		SlowThreshold:  1500 * time.Millisecond,
		MaxRetries:     2,
		RetryBaseDelay: 100 * time.Millisecond,
	}
}

// applyEnv applies the per-purpose timeout override variables.
func (c *LLMConfig) applyEnv() {
	overrides := map[Purpose]string{
		PurposeGate:           "GATE_TIMEOUT_MS",
		PurposeIntent:         "INTENT_TIMEOUT_MS",
		PurposeBaseFilters:    "BASE_FILTERS_TIMEOUT_MS",
		PurposeRouteMapper:    "ROUTE_MAPPER_TIMEOUT_MS",
		PurposeCuisineEnforce: "FILTER_ENFORCER_TIMEOUT_MS",
		PurposeRankingProfile: "RANKING_PROFILE_TIMEOUT_MS",
		PurposeAssistant:      "ASSISTANT_TIMEOUT_MS",
	}
	for purpose, key := range overrides {
		c.Timeouts[purpose] = envMillis(key, c.Timeouts[purpose])
	}
	c.Model = getEnv("LLM_MODEL", c.Model)
}

// TimeoutFor returns the deadline for a purpose.
func (c *LLMConfig) TimeoutFor(p Purpose) (time.Duration, error) {
	d, ok := c.Timeouts[p]
	if !ok {
		return 0, fmt.Errorf("unknown LLM purpose: %s", p)
	}
	return d, nil
}
