package tts

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narration-gateway/internal/config"
)

// NewProviders constructs every provider enabled in cfg, keyed by name
func NewProviders(cfg *config.Config, httpClient *http.Client) map[string]Provider {
	providers := make(map[string]Provider)
	for _, name := range cfg.EnabledProviders() {
		switch name {
		case "google":
			providers[name] = NewGoogleProvider(cfg, httpClient)
		case "bhashini":
			providers[name] = NewBhashiniProvider(cfg, httpClient)
		case "openai":
			providers[name] = NewOpenAIProvider(cfg, httpClient)
		case "cartesia":
			providers[name] = NewCartesiaClient(cfg, httpClient)
		}
	}
	return providers
}

// ProviderTimeouts returns the configured per-attempt timeout of each provider
func ProviderTimeouts(cfg *config.Config) map[string]time.Duration {
	return map[string]time.Duration{
		"google":   config.Millis(cfg.GoogleTimeout),
		"bhashini": config.Millis(cfg.BhashiniTimeout),
		"openai":   config.Millis(cfg.OpenAITimeout),
		"cartesia": config.Millis(cfg.CartesiaTimeout),
	}
}

// LoadProviderConfig builds the routing table from ROUTING_FILE, or the built-in table
func LoadProviderConfig(cfg *config.Config, providers map[string]Provider, logger zerolog.Logger) (*ProviderConfig, error) {
	table := DefaultRouteTable()
	if cfg.RoutingFile != "" {
		loaded, err := LoadRouteTable(cfg.RoutingFile)
		if err != nil {
			return nil, err
		}
		table = loaded
	}

	pc, err := table.Build(providers, ProviderTimeouts(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build routing table: %w", err)
	}
	return pc, nil
}
