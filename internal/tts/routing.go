package tts

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultRoute is the routing key used when a language has no entry of its own
const DefaultRoute = "default"

// DefaultProviderTimeout bounds an attempt when neither the table nor the
// provider defaults name a timeout.
const DefaultProviderTimeout = 10 * time.Second

// Candidate is one provider in a fallback chain with its per-attempt timeout
type Candidate struct {
	Provider Provider
	Timeout  time.Duration
}

// ProviderConfig maps language tags to ordered fallback chains.
// It is immutable once built and safe for concurrent use.
type ProviderConfig struct {
	routes map[string][]Candidate
}

// NewProviderConfig builds a ProviderConfig. Keys are normalized; empty chains are dropped.
func NewProviderConfig(routes map[string][]Candidate) (*ProviderConfig, error) {
	pc := &ProviderConfig{routes: make(map[string][]Candidate, len(routes))}
	for lang, chain := range routes {
		if len(chain) == 0 {
			continue
		}
		for _, c := range chain {
			if c.Provider == nil {
				return nil, fmt.Errorf("route %q has a nil provider", lang)
			}
		}
		pc.routes[NormalizeLanguage(lang)] = append([]Candidate(nil), chain...)
	}
	if len(pc.routes) == 0 {
		return nil, fmt.Errorf("routing table has no usable providers")
	}
	return pc, nil
}

// Resolve returns the fallback chain for lang: the exact tag, then its base
// language, then the default route.
func (pc *ProviderConfig) Resolve(lang string) ([]Candidate, error) {
	tag := NormalizeLanguage(lang)
	if chain, ok := pc.routes[tag]; ok {
		return chain, nil
	}
	if base, _, found := strings.Cut(tag, "-"); found {
		if chain, ok := pc.routes[base]; ok {
			return chain, nil
		}
	}
	if chain, ok := pc.routes[DefaultRoute]; ok {
		return chain, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoRoute, lang)
}

// Languages lists the configured routing keys
func (pc *ProviderConfig) Languages() []string {
	langs := make([]string, 0, len(pc.routes))
	for lang := range pc.routes {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Providers returns every distinct provider referenced by the table
func (pc *ProviderConfig) Providers() []Provider {
	seen := make(map[string]bool)
	var out []Provider
	for _, lang := range pc.Languages() {
		for _, c := range pc.routes[lang] {
			if name := c.Provider.Name(); !seen[name] {
				seen[name] = true
				out = append(out, c.Provider)
			}
		}
	}
	return out
}

// NormalizeLanguage lowercases a language tag and uses "-" as the subtag separator
func NormalizeLanguage(lang string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(lang)), "_", "-")
}

// RouteTable is the serializable form of a ProviderConfig
type RouteTable struct {
	Languages map[string][]string `yaml:"languages"`
	Timeouts  map[string]string   `yaml:"timeouts"`
}

// DefaultRouteTable is used when no routing file is configured
func DefaultRouteTable() RouteTable {
	return RouteTable{
		Languages: map[string][]string{
			DefaultRoute: {"google", "openai", "cartesia"},
			"or":         {"bhashini", "google"},
			"hi":         {"google", "bhashini", "openai"},
			"kn":         {"google", "bhashini", "openai"},
		},
	}
}

// LoadRouteTable reads a YAML routing table from disk
func LoadRouteTable(path string) (RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RouteTable{}, fmt.Errorf("failed to read routing file: %w", err)
	}
	return ParseRouteTable(data)
}

// ParseRouteTable decodes a YAML routing table
func ParseRouteTable(data []byte) (RouteTable, error) {
	var table RouteTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return RouteTable{}, fmt.Errorf("failed to parse routing table: %w", err)
	}
	if len(table.Languages) == 0 {
		return RouteTable{}, fmt.Errorf("routing table defines no languages")
	}
	for name, raw := range table.Timeouts {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return RouteTable{}, fmt.Errorf("invalid timeout %q for provider %s", raw, name)
		}
	}
	return table, nil
}

// Build resolves provider names against the registered providers. Names that are
// not registered (disabled or missing credentials) are skipped with a warning.
func (t RouteTable) Build(providers map[string]Provider, defaults map[string]time.Duration, logger zerolog.Logger) (*ProviderConfig, error) {
	routes := make(map[string][]Candidate, len(t.Languages))
	for lang, names := range t.Languages {
		for _, name := range names {
			p, ok := providers[name]
			if !ok {
				logger.Warn().
					Str("lang", lang).
					Str("provider", name).
					Msg("Routing table names a provider that is not enabled, skipping")
				continue
			}
			routes[lang] = append(routes[lang], Candidate{
				Provider: p,
				Timeout:  t.timeoutFor(name, defaults),
			})
		}
		if len(routes[lang]) == 0 {
			logger.Warn().Str("lang", lang).Msg("Route has no enabled providers")
		}
	}
	return NewProviderConfig(routes)
}

func (t RouteTable) timeoutFor(name string, defaults map[string]time.Duration) time.Duration {
	if raw, ok := t.Timeouts[name]; ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	if d, ok := defaults[name]; ok && d > 0 {
		return d
	}
	return DefaultProviderTimeout
}
