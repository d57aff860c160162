package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.Redis.FailClosed)
	assert.Equal(t, 90*time.Second, cfg.Dedup.RunningMaxAge)
	assert.Equal(t, 5*time.Second, cfg.Dedup.SuccessFreshWindow)
	assert.Equal(t, 30, cfg.Ranking.CandidatePoolSize)
	assert.Equal(t, 256, cfg.Push.BacklogCapacity)
}

func TestLoad_ProductionPolicies(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Redis.FailClosed)
	assert.Equal(t, 300*time.Second, cfg.Dedup.RunningMaxAge)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATE_TIMEOUT_MS", "1200")
	t.Setenv("DEDUP_RUNNING_MAX_AGE_MS", "45000")
	t.Setenv("RANKING_LLM_ENABLED", "false")
	t.Setenv("RANKING_DEFAULT_MODE", "GOOGLE")
	t.Setenv("CANDIDATE_POOL_SIZE", "20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1200*time.Millisecond, cfg.LLM.Timeouts[PurposeGate])
	assert.Equal(t, 45*time.Second, cfg.Dedup.RunningMaxAge)
	assert.False(t, cfg.Ranking.LLMEnabled)
	assert.Equal(t, RankingModeGoogle, cfg.Ranking.DefaultMode)
	assert.Equal(t, 20, cfg.Ranking.CandidatePoolSize)
}

func TestLoad_InvalidModeIgnored(t *testing.T) {
	t.Setenv("RANKING_DEFAULT_MODE", "RANDOM")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, RankingModeLLMScore, cfg.Ranking.DefaultMode)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	content := `
region_policy:
  languages:
    IL: he
    FR: fr
  default: en
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	lang, source := cfg.Region.Resolve("FR")
	assert.Equal(t, "fr", lang)
	assert.Equal(t, "region_policy:FR", source)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestRegionPolicy_Resolve(t *testing.T) {
	p := DefaultRegionPolicy()

	tests := []struct {
		region     string
		wantLang   string
		wantSource string
	}{
		{"IL", "he", "region_policy:IL"},
		{"il", "he", "region_policy:IL"},
		{"PS", "he", "region_policy:PS"},
		{"US", "en", "region_policy:US"},
		{"FR", "en", "global_default"},
		{"", "en", "global_default"},
	}
	for _, tt := range tests {
		lang, source := p.Resolve(tt.region)
		assert.Equal(t, tt.wantLang, lang, "region %q", tt.region)
		assert.Equal(t, tt.wantSource, source, "region %q", tt.region)
	}
}

func TestLLMConfig_TimeoutFor(t *testing.T) {
	cfg := DefaultLLMConfig()

	d, err := cfg.TimeoutFor(PurposeRouteMapper)
	require.NoError(t, err)
	assert.Equal(t, 3500*time.Millisecond, d)

	_, err = cfg.TimeoutFor(Purpose("bogus"))
	assert.Error(t, err)
}
