// Package lang derives the language context for a search: the provider
// search language comes only from region policy, while the assistant
// language follows the user. The two never feed into each other.
package lang

import (
	"fmt"
	"strings"

	"github.com/tablescout/tablescout/pkg/config"
)

// Supported assistant/search languages.
var supported = map[string]bool{"he": true, "en": true}

// Assistant-language source tags.
const (
	SourceLLMConfident = "llm_confident"
	SourceUIFallback   = "ui_fallback"
	SourceGlobalDefault = "global_default"
)

// confidenceFloor is the minimum model confidence for the detected query
// language to drive the assistant language.
const confidenceFloor = 0.7

// Input carries the signals available when resolving a language context.
type Input struct {
	RegionCode      string
	UILanguage      string
	QueryLanguage   string  // model-detected language of the raw query
	QueryConfidence float64 // model confidence for QueryLanguage
}

// Sources records where each resolved field came from, for auditing.
type Sources struct {
	SearchLanguage    string `json:"search_language"`
	AssistantLanguage string `json:"assistant_language"`
}

// Context is the resolved language context. Construct only via Resolve,
// which enforces the separation invariant.
type Context struct {
	SearchLanguage    string  `json:"search_language"`
	AssistantLanguage string  `json:"assistant_language"`
	Sources           Sources `json:"sources"`
}

// Resolve derives the language context. SearchLanguage depends only on the
// region policy; AssistantLanguage follows model confidence, then the UI
// hint, then "en".
func Resolve(policy *config.RegionPolicy, in Input) (*Context, error) {
	searchLang, searchSource := policy.Resolve(in.RegionCode)

	assistantLang, assistantSource := resolveAssistant(in)

	ctx := &Context{
		SearchLanguage:    searchLang,
		AssistantLanguage: assistantLang,
		Sources: Sources{
			SearchLanguage:    searchSource,
			AssistantLanguage: assistantSource,
		},
	}
	if err := Validate(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func resolveAssistant(in Input) (string, string) {
	if in.QueryConfidence >= confidenceFloor && supported[in.QueryLanguage] {
		return in.QueryLanguage, SourceLLMConfident
	}
	if supported[in.UILanguage] {
		return in.UILanguage, SourceUIFallback
	}
	return "en", SourceGlobalDefault
}

// Validate rejects a context whose search-language source shows any trace
// of assistant, query, or UI influence. Region policy and the global
// default are the only admissible sources.
func Validate(c *Context) error {
	src := strings.ToLower(c.Sources.SearchLanguage)
	for _, forbidden := range []string{"assistant", "query", "ui"} {
		if strings.Contains(src, forbidden) {
			return fmt.Errorf("search language source %q is contaminated by %q", src, forbidden)
		}
	}
	if !supported[c.SearchLanguage] {
		return fmt.Errorf("unsupported search language %q", c.SearchLanguage)
	}
	return nil
}
