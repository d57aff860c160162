package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablescout/tablescout/pkg/config"
)

func TestResolve_SearchLanguageFromRegionOnly(t *testing.T) {
	policy := config.DefaultRegionPolicy()

	// Holding regionCode fixed, no combination of UI/query signals may
	// change the search language.
	variants := []Input{
		{RegionCode: "IL"},
		{RegionCode: "IL", UILanguage: "en"},
		{RegionCode: "IL", UILanguage: "he"},
		{RegionCode: "IL", QueryLanguage: "en", QueryConfidence: 0.99},
		{RegionCode: "IL", QueryLanguage: "he", QueryConfidence: 0.99, UILanguage: "en"},
	}
	for _, in := range variants {
		ctx, err := Resolve(policy, in)
		require.NoError(t, err)
		assert.Equal(t, "he", ctx.SearchLanguage)
		assert.Equal(t, "region_policy:IL", ctx.Sources.SearchLanguage)
	}
}

func TestResolve_UnknownRegionGlobalDefault(t *testing.T) {
	ctx, err := Resolve(config.DefaultRegionPolicy(), Input{RegionCode: "FR", UILanguage: "he"})
	require.NoError(t, err)
	assert.Equal(t, "en", ctx.SearchLanguage)
	assert.Equal(t, "global_default", ctx.Sources.SearchLanguage)
	// Assistant still follows the UI hint independently.
	assert.Equal(t, "he", ctx.AssistantLanguage)
	assert.Equal(t, SourceUIFallback, ctx.Sources.AssistantLanguage)
}

func TestResolve_AssistantLanguage(t *testing.T) {
	policy := config.DefaultRegionPolicy()

	tests := []struct {
		name       string
		in         Input
		wantLang   string
		wantSource string
	}{
		{
			name:       "confident model detection wins",
			in:         Input{RegionCode: "US", QueryLanguage: "he", QueryConfidence: 0.9, UILanguage: "en"},
			wantLang:   "he",
			wantSource: SourceLLMConfident,
		},
		{
			name:       "low confidence falls to UI",
			in:         Input{RegionCode: "US", QueryLanguage: "he", QueryConfidence: 0.5, UILanguage: "he"},
			wantLang:   "he",
			wantSource: SourceUIFallback,
		},
		{
			name:       "unsupported detection falls to UI",
			in:         Input{RegionCode: "US", QueryLanguage: "fr", QueryConfidence: 0.95, UILanguage: "en"},
			wantLang:   "en",
			wantSource: SourceUIFallback,
		},
		{
			name:       "no signals default en",
			in:         Input{RegionCode: "US", UILanguage: "xx"},
			wantLang:   "en",
			wantSource: SourceGlobalDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := Resolve(policy, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLang, ctx.AssistantLanguage)
			assert.Equal(t, tt.wantSource, ctx.Sources.AssistantLanguage)
		})
	}
}

func TestValidate_RejectsContaminatedSource(t *testing.T) {
	for _, src := range []string{"query_detected", "assistant_echo", "ui_fallback"} {
		ctx := &Context{
			SearchLanguage:    "en",
			AssistantLanguage: "en",
			Sources:           Sources{SearchLanguage: src},
		}
		assert.Error(t, Validate(ctx), "source %q must be rejected", src)
	}
}
