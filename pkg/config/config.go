// Package config holds the process configuration: defaults live in code,
// overrides come from environment variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the root configuration object assembled at startup.
type Config struct {
	Env      string `yaml:"env"`
	HTTPPort string `yaml:"http_port"`

	Redis    *RedisConfig    `yaml:"redis"`
	LLM      *LLMConfig      `yaml:"llm"`
	Places   *PlacesConfig   `yaml:"places"`
	Dedup    *DedupConfig    `yaml:"dedup"`
	Ranking  *RankingConfig  `yaml:"ranking"`
	Region   *RegionPolicy   `yaml:"region_policy"`
	Push     *PushConfig     `yaml:"push"`
	Dispatch *DispatchConfig `yaml:"dispatch"`
}

// RedisConfig holds store connection settings.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	FailClosed bool          `yaml:"fail_closed"`
	// StartupPingTimeout bounds the boot-time store ping. In production a
	// failed ping exits non-zero; in development the process continues
	// degraded and /ready reports not-ready.
	StartupPingTimeout time.Duration `yaml:"startup_ping_timeout"`
	JobTTL             time.Duration `yaml:"job_ttl"`
	TicketTTL          time.Duration `yaml:"ticket_ttl"`
}

// PlacesConfig holds place-provider settings.
type PlacesConfig struct {
	APIKeyEnv         string        `yaml:"api_key_env"`
	BaseURL           string        `yaml:"base_url"`
	TextSearchTimeout time.Duration `yaml:"text_search_timeout"`
	GeocodeTimeout    time.Duration `yaml:"geocode_timeout"`
	GeocodeCacheTTL   time.Duration `yaml:"geocode_cache_ttl"`
	MaxResults        int           `yaml:"max_results"`
}

// PushConfig holds socket publishing settings.
type PushConfig struct {
	BacklogCapacity  int           `yaml:"backlog_capacity"`
	CoalesceInterval time.Duration `yaml:"coalesce_interval"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// DispatchConfig holds pipeline dispatch settings.
type DispatchConfig struct {
	MaxConcurrentSearches int           `yaml:"max_concurrent_searches"`
	SweepInterval         time.Duration `yaml:"sweep_interval"`
	GracefulShutdown      time.Duration `yaml:"graceful_shutdown"`
}

// Load assembles the configuration: built-in defaults, then the optional
// YAML overrides file named by CONFIG_FILE, then environment variables.
// Later layers win.
func Load() (*Config, error) {
	env := getEnv("APP_ENV", EnvDevelopment)
	production := env == EnvProduction

	cfg := &Config{
		Env:      env,
		HTTPPort: "8080",
		Redis: &RedisConfig{
			URL:                "redis://localhost:6379/0",
			FailClosed:         production,
			StartupPingTimeout: 8 * time.Second,
			JobTTL:             24 * time.Hour,
			TicketTTL:          60 * time.Second,
		},
		LLM: DefaultLLMConfig(),
		Places: &PlacesConfig{
			APIKeyEnv:         "PLACES_API_KEY",
			BaseURL:           "https://places.googleapis.com",
			TextSearchTimeout: 6 * time.Second,
			GeocodeTimeout:    3 * time.Second,
			GeocodeCacheTTL:   time.Hour,
			MaxResults:        30,
		},
		Dedup:   DefaultDedupConfig(production),
		Ranking: DefaultRankingConfig(),
		Region:  DefaultRegionPolicy(),
		Push: &PushConfig{
			BacklogCapacity:  256,
			CoalesceInterval: 100 * time.Millisecond,
			WriteTimeout:     10 * time.Second,
		},
		Dispatch: &DispatchConfig{
			MaxConcurrentSearches: 32,
			SweepInterval:         time.Minute,
			GracefulShutdown:      30 * time.Second,
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the process runs with production policies
// (fail-closed store, long running TTL).
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// applyFile merges the optional YAML overrides file. Only fields present in
// the file are overridden; the file is typically used for region-policy and
// ranking-profile tuning.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.FailClosed = envBool("REDIS_FAIL_CLOSED", c.Redis.FailClosed)
	c.Redis.StartupPingTimeout = envMillis("STARTUP_STORE_TIMEOUT_MS", c.Redis.StartupPingTimeout)

	c.Places.BaseURL = getEnv("PLACES_BASE_URL", c.Places.BaseURL)
	c.Places.TextSearchTimeout = envMillis("TEXTSEARCH_TIMEOUT_MS", c.Places.TextSearchTimeout)
	c.Places.GeocodeTimeout = envMillis("GEOCODE_TIMEOUT_MS", c.Places.GeocodeTimeout)

	c.Push.WriteTimeout = envMillis("WS_WRITE_TIMEOUT_MS", c.Push.WriteTimeout)
	c.Dispatch.MaxConcurrentSearches = envInt("MAX_CONCURRENT_SEARCHES", c.Dispatch.MaxConcurrentSearches)
	c.Dispatch.SweepInterval = envMillis("SWEEP_INTERVAL_MS", c.Dispatch.SweepInterval)

	c.LLM.applyEnv()
	c.Dedup.applyEnv()
	c.Ranking.applyEnv()
}

func (c *Config) validate() error {
	for _, p := range AllPurposes {
		if _, ok := c.LLM.Timeouts[p]; !ok {
			return fmt.Errorf("missing LLM timeout for purpose %q", p)
		}
	}
	if c.Ranking.CandidatePoolSize <= 0 {
		return fmt.Errorf("candidate pool size must be positive")
	}
	if c.Push.BacklogCapacity < 256 {
		return fmt.Errorf("push backlog capacity must be at least 256")
	}
	if _, ok := c.Ranking.Profiles[ProfileBalanced]; !ok {
		return fmt.Errorf("ranking profiles must include %s", ProfileBalanced)
	}
	return nil
}
