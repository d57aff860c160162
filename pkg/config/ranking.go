package config

// RankingMode selects how results are ordered when the profile LLM is
// disabled or fails.
type RankingMode string

// Ranking modes.
const (
	// RankingModeGoogle preserves provider order (no local scoring).
	RankingModeGoogle RankingMode = "GOOGLE"
	// RankingModeLLMScore applies the LLM-selected weight profile.
	RankingModeLLMScore RankingMode = "LLM_SCORE"
)

// RankingWeights is the weight vector over the four ranking signals.
type RankingWeights struct {
	Rating    float64 `yaml:"rating" json:"rating"`
	Reviews   float64 `yaml:"reviews" json:"reviews"`
	Distance  float64 `yaml:"distance" json:"distance"`
	OpenBoost float64 `yaml:"open_boost" json:"open_boost"`
}

// RankingProfile is a named weight vector the profile LLM chooses from.
type RankingProfile struct {
	Name    string         `yaml:"name" json:"name"`
	Weights RankingWeights `yaml:"weights" json:"weights"`
}

// Built-in profile names. GOOGLE is the implicit passthrough mode, not a
// profile the LLM may select.
const (
	ProfileQualityFocused  = "QUALITY_FOCUSED"
	ProfileDistanceFocused = "DISTANCE_FOCUSED"
	ProfileBalanced        = "BALANCED"
)

// RankingConfig holds profile definitions and pool sizes.
type RankingConfig struct {
	LLMEnabled  bool                      `yaml:"llm_enabled"`
	DefaultMode RankingMode               `yaml:"default_mode"`
	Profiles    map[string]RankingProfile `yaml:"profiles"`

	// CandidatePoolSize is how many provider records enter ranking.
	CandidatePoolSize int `yaml:"candidate_pool_size"`
	// DisplayResultsSize is how many ranked places clients show up front.
	DisplayResultsSize int `yaml:"display_results_size"`
	// MaxDistanceMeters normalizes the distance signal.
	MaxDistanceMeters float64 `yaml:"max_distance_meters"`
}

// DefaultRankingConfig returns the built-in ranking defaults.
func DefaultRankingConfig() *RankingConfig {
	return &RankingConfig{
		LLMEnabled:  true,
		DefaultMode: RankingModeLLMScore,
		Profiles: map[string]RankingProfile{
			ProfileQualityFocused: {
				Name:    ProfileQualityFocused,
				Weights: RankingWeights{Rating: 0.5, Reviews: 0.3, Distance: 0.1, OpenBoost: 0.1},
			},
			ProfileDistanceFocused: {
				Name:    ProfileDistanceFocused,
				Weights: RankingWeights{Rating: 0.2, Reviews: 0.1, Distance: 0.6, OpenBoost: 0.1},
			},
			ProfileBalanced: {
				Name:    ProfileBalanced,
				Weights: RankingWeights{Rating: 0.35, Reviews: 0.25, Distance: 0.3, OpenBoost: 0.1},
			},
		},
		CandidatePoolSize:  30,
		DisplayResultsSize: 10,
		MaxDistanceMeters:  15000,
	}
}

func (c *RankingConfig) applyEnv() {
	c.LLMEnabled = envBool("RANKING_LLM_ENABLED", c.LLMEnabled)
	if mode := getEnv("RANKING_DEFAULT_MODE", ""); mode != "" {
		switch RankingMode(mode) {
		case RankingModeGoogle, RankingModeLLMScore:
			c.DefaultMode = RankingMode(mode)
		}
	}
	c.CandidatePoolSize = envInt("CANDIDATE_POOL_SIZE", c.CandidatePoolSize)
	c.DisplayResultsSize = envInt("DISPLAY_RESULTS_SIZE", c.DisplayResultsSize)
}

// ProfileNames returns the selectable profile names (for the LLM prompt
// and schema enum).
func (c *RankingConfig) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	return names
}
