package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/narration-gateway/internal/config"
	"github.com/lexiqai/narration-gateway/internal/resilience"
)

// OpenAIProvider uses the OpenAI speech endpoint through go-openai
type OpenAIProvider struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

// NewOpenAIProvider creates an OpenAI speech provider
func NewOpenAIProvider(cfg *config.Config, httpClient *http.Client) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.SpeechModel(cfg.OpenAIModel),
		voice:  openai.SpeechVoice(cfg.OpenAIVoice),
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          req.Text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, o.classify(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(io.LimitReader(resp, maxAudioBytes))
	if err != nil {
		return nil, transportError(o.Name(), fmt.Errorf("failed to read audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, &ProviderError{Provider: o.Name(), StatusCode: http.StatusOK, Err: ErrMissingAudio}
	}

	return &Result{
		Audio:       audio,
		ContentType: sniffContentType(resp.Header().Get("Content-Type"), audio),
		Provider:    o.Name(),
	}, nil
}

func (o *OpenAIProvider) classify(err error) *ProviderError {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return transportError(o.Name(), err)
	}
	return &ProviderError{
		Provider:   o.Name(),
		StatusCode: status,
		Retryable:  resilience.IsRetryableHTTPStatus(status),
		Err:        err,
	}
}
