package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// GoogleMaxTextLength is the longest text the Google Translate speech endpoint accepts.
const GoogleMaxTextLength = 200

// Config holds all configuration for the narration gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Text segmentation
	MaxChunkLength int `envconfig:"MAX_CHUNK_LENGTH" default:"200"` // Upper bound in characters per synthesized chunk

	// Optional YAML routing table (language -> ordered providers). Built-in table when empty.
	RoutingFile string `envconfig:"ROUTING_FILE" default:""`

	// Google Translate TTS (keyless)
	GoogleEnabled     bool   `envconfig:"GOOGLE_TTS_ENABLED" default:"true"`
	GoogleURL         string `envconfig:"GOOGLE_TTS_URL" default:"https://translate.google.com/translate_tts"`
	GoogleTimeout     int    `envconfig:"GOOGLE_TTS_TIMEOUT_MS" default:"3000"`     // fast-fail primary
	GoogleMinInterval int    `envconfig:"GOOGLE_TTS_MIN_INTERVAL_MS" default:"150"` // pacing between upstream calls
	GoogleUserAgent   string `envconfig:"GOOGLE_TTS_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"`

	// Bhashini / Anuvadini pipeline
	BhashiniEnabled           bool   `envconfig:"BHASHINI_ENABLED" default:"true"`
	BhashiniURL               string `envconfig:"BHASHINI_URL" default:"https://pre-prod-api.anuvadini.gov.in/v2/master-pipeline"`
	BhashiniAPIKey            string `envconfig:"BHASHINI_API_KEY" default:""`
	BhashiniServiceIDTemplate string `envconfig:"BHASHINI_SERVICE_ID_TEMPLATE" default:"ai4b-%s-tts"`
	BhashiniTimeout           int    `envconfig:"BHASHINI_TIMEOUT_MS" default:"10000"`

	// OpenAI speech API
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel   string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	OpenAIVoice   string `envconfig:"OPENAI_TTS_VOICE" default:"alloy"`
	OpenAITimeout int    `envconfig:"OPENAI_TIMEOUT_MS" default:"15000"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaURL     string `envconfig:"CARTESIA_URL" default:"https://api.cartesia.ai/tts/bytes"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaTimeout int    `envconfig:"CARTESIA_TIMEOUT_MS" default:"15000"`

	// Synthesis cache (disabled when REDIS_ADDR is empty)
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      int    `envconfig:"CACHE_TTL_SECONDS" default:"86400"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ProviderRetryAttempts      int `envconfig:"PROVIDER_RETRY_ATTEMPTS" default:"1"`        // 1 = immediate fallback, no same-provider retry
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Browser narration sessions
	PlaybackTimeout  int  `envconfig:"PLAYBACK_TIMEOUT" default:"120"` // seconds to wait for a chunk's "ended" event
	WSAllowAnyOrigin bool `envconfig:"WS_ALLOW_ANY_ORIGIN" default:"false"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	TraceExporter  string `envconfig:"TRACE_EXPORTER" default:"none"`  // none, stdout
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.MaxChunkLength <= 0 {
		return fmt.Errorf("MAX_CHUNK_LENGTH must be positive, got %d", c.MaxChunkLength)
	}
	if c.MaxChunkLength > GoogleMaxTextLength {
		return fmt.Errorf("MAX_CHUNK_LENGTH must not exceed %d, got %d", GoogleMaxTextLength, c.MaxChunkLength)
	}

	timeouts := map[string]int{
		"GOOGLE_TTS_TIMEOUT_MS": c.GoogleTimeout,
		"BHASHINI_TIMEOUT_MS":   c.BhashiniTimeout,
		"OPENAI_TIMEOUT_MS":     c.OpenAITimeout,
		"CARTESIA_TIMEOUT_MS":   c.CartesiaTimeout,
		"PLAYBACK_TIMEOUT":      c.PlaybackTimeout,
	}
	for name, value := range timeouts {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	if c.ProviderRetryAttempts < 1 {
		return fmt.Errorf("PROVIDER_RETRY_ATTEMPTS must be at least 1, got %d", c.ProviderRetryAttempts)
	}

	if len(c.EnabledProviders()) == 0 {
		return fmt.Errorf("no TTS provider enabled: enable Google or Bhashini, or set OPENAI_API_KEY / CARTESIA_API_KEY")
	}

	switch strings.ToLower(c.TraceExporter) {
	case "none", "stdout":
	default:
		return fmt.Errorf("TRACE_EXPORTER must be one of none, stdout; got %q", c.TraceExporter)
	}

	return nil
}

// EnabledProviders lists the providers that have everything they need to run
func (c *Config) EnabledProviders() []string {
	var names []string
	if c.GoogleEnabled {
		names = append(names, "google")
	}
	if c.BhashiniEnabled {
		names = append(names, "bhashini")
	}
	if c.OpenAIAPIKey != "" {
		names = append(names, "openai")
	}
	if c.CartesiaAPIKey != "" {
		names = append(names, "cartesia")
	}
	return names
}

// CacheEnabled reports whether a redis synthesis cache is configured
func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

// Millis converts a millisecond setting to a duration
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
