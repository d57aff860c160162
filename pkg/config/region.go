package config

import "strings"

// RegionPolicy maps ISO 3166-1 alpha-2 region codes onto the search
// language used for provider queries and cache keys. The map is closed:
// any region not listed resolves to the global default "en".
type RegionPolicy struct {
	Languages map[string]string `yaml:"languages"`
	Default   string            `yaml:"default"`
}

// DefaultRegionPolicy returns the built-in policy table.
func DefaultRegionPolicy() *RegionPolicy {
	return &RegionPolicy{
		Languages: map[string]string{
			"IL": "he",
			"PS": "he",
			"US": "en",
			"GB": "en",
			"CA": "en",
			"AU": "en",
			"NZ": "en",
			"IE": "en",
		},
		Default: "en",
	}
}

// Resolve returns the search language for a region plus a source tag for
// auditing: "region_policy:<CC>" on a table hit, "global_default" otherwise.
func (p *RegionPolicy) Resolve(regionCode string) (lang, source string) {
	cc := strings.ToUpper(strings.TrimSpace(regionCode))
	if l, ok := p.Languages[cc]; ok {
		return l, "region_policy:" + cc
	}
	return p.Default, "global_default"
}
