package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/narration-gateway/internal/config"
)

const cartesiaVersion = "2024-06-10"

// cartesiaLanguages are the languages the sonic models speak
var cartesiaLanguages = map[string]bool{
	"en": true, "fr": true, "de": true, "es": true, "pt": true, "zh": true, "ja": true, "hi": true,
	"it": true, "ko": true, "nl": true, "pl": true, "ru": true, "sv": true, "tr": true,
}

// CartesiaClient implements Provider using Cartesia's bytes endpoint
type CartesiaClient struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	httpClient *http.Client
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config, httpClient *http.Client) *CartesiaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     cfg.CartesiaURL,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		httpClient: httpClient,
	}
}

func (c *CartesiaClient) Name() string { return "cartesia" }

// Supports reports whether Cartesia speaks the base language of lang
func (c *CartesiaClient) Supports(lang string) bool {
	base, _, _ := strings.Cut(NormalizeLanguage(lang), "-")
	return cartesiaLanguages[base]
}

// Synthesize converts text to MP3 audio
func (c *CartesiaClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if !c.Supports(req.Language) {
		return nil, &ProviderError{Provider: c.Name(), Err: fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)}
	}
	lang, _, _ := strings.Cut(NormalizeLanguage(req.Language), "-")

	reqBody := CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: req.Text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "mp3",
			SampleRate: 44100,
			BitRate:    128000,
		},
		Language: lang,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(c.Name(), fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.Name(), resp)
	}

	audioData, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, transportError(c.Name(), fmt.Errorf("failed to read audio: %w", err))
	}
	if len(audioData) == 0 {
		return nil, &ProviderError{Provider: c.Name(), StatusCode: resp.StatusCode, Err: ErrMissingAudio}
	}

	return &Result{
		Audio:       audioData,
		ContentType: sniffContentType(resp.Header.Get("Content-Type"), audioData),
		Provider:    c.Name(),
	}, nil
}
