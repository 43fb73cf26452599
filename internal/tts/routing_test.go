package tts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerNames(chain []Candidate) []string {
	names := make([]string, len(chain))
	for i, c := range chain {
		names[i] = c.Provider.Name()
	}
	return names
}

func TestDefaultRouteTable_Build(t *testing.T) {
	providers := map[string]Provider{
		"google":   succeeding("google"),
		"bhashini": succeeding("bhashini"),
		"openai":   succeeding("openai"),
	}
	defaults := map[string]time.Duration{"google": 3 * time.Second}

	pc, err := DefaultRouteTable().Build(providers, defaults, zerolog.Nop())
	require.NoError(t, err)

	or, err := pc.Resolve("or")
	require.NoError(t, err)
	assert.Equal(t, []string{"bhashini", "google"}, providerNames(or))

	en, err := pc.Resolve("en")
	require.NoError(t, err)
	assert.Equal(t, []string{"google", "openai"}, providerNames(en), "cartesia is not registered and must be skipped")
	assert.Equal(t, 3*time.Second, en[0].Timeout)
	assert.Equal(t, DefaultProviderTimeout, en[1].Timeout)

	hi, err := pc.Resolve("hi-IN")
	require.NoError(t, err)
	assert.Equal(t, []string{"google", "bhashini", "openai"}, providerNames(hi))

	assert.Equal(t, []string{"default", "hi", "kn", "or"}, pc.Languages())
	assert.Len(t, pc.Providers(), 3)
}

func TestParseRouteTable(t *testing.T) {
	data := []byte(`
languages:
  default: [google, openai]
  or: [bhashini]
timeouts:
  google: 3s
  bhashini: 12s
`)
	table, err := ParseRouteTable(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"google", "openai"}, table.Languages["default"])

	pc, err := table.Build(map[string]Provider{
		"google":   succeeding("google"),
		"bhashini": succeeding("bhashini"),
	}, nil, zerolog.Nop())
	require.NoError(t, err)

	or, err := pc.Resolve("or")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, or[0].Timeout)

	def, err := pc.Resolve("de")
	require.NoError(t, err)
	assert.Equal(t, []string{"google"}, providerNames(def))
	assert.Equal(t, 3*time.Second, def[0].Timeout)
}

func TestParseRouteTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "languages: [unclosed"},
		{"no languages", "timeouts:\n  google: 3s\n"},
		{"bad timeout", "languages:\n  default: [google]\ntimeouts:\n  google: soon\n"},
		{"negative timeout", "languages:\n  default: [google]\ntimeouts:\n  google: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRouteTable([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadRouteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("languages:\n  kn: [google]\n"), 0o600))

	table, err := LoadRouteTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"google"}, table.Languages["kn"])

	_, err = LoadRouteTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRouteTable_BuildWithNoUsableProviders(t *testing.T) {
	_, err := DefaultRouteTable().Build(map[string]Provider{}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewProviderConfig_Validation(t *testing.T) {
	_, err := NewProviderConfig(map[string][]Candidate{"en": {{Provider: nil}}})
	assert.Error(t, err)

	_, err = NewProviderConfig(map[string][]Candidate{"en": nil})
	assert.Error(t, err)
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en-us", NormalizeLanguage(" en_US "))
	assert.Equal(t, "or", NormalizeLanguage("OR"))
}
