package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/narration-gateway/internal/config"
)

// BhashiniProvider calls the Bhashini/Anuvadini master pipeline, which covers
// Indic scripts the other engines do not.
type BhashiniProvider struct {
	apiURL            string
	apiKey            string
	serviceIDTemplate string
	httpClient        *http.Client
}

type bhashiniRequest struct {
	Input  []bhashiniInput `json:"input"`
	Config bhashiniConfig  `json:"config"`
}

type bhashiniInput struct {
	Source string `json:"source"`
}

type bhashiniConfig struct {
	ServiceID string           `json:"serviceId"`
	Language  bhashiniLanguage `json:"language"`
}

type bhashiniLanguage struct {
	SourceLanguage string `json:"sourceLanguage"`
}

type bhashiniResponse struct {
	PipelineResponse []struct {
		Audio []struct {
			AudioContent string `json:"audioContent"`
		} `json:"audio"`
	} `json:"pipelineResponse"`
}

// NewBhashiniProvider creates a Bhashini pipeline provider
func NewBhashiniProvider(cfg *config.Config, httpClient *http.Client) *BhashiniProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BhashiniProvider{
		apiURL:            cfg.BhashiniURL,
		apiKey:            cfg.BhashiniAPIKey,
		serviceIDTemplate: cfg.BhashiniServiceIDTemplate,
		httpClient:        httpClient,
	}
}

func (b *BhashiniProvider) Name() string { return "bhashini" }

func (b *BhashiniProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	lang, _, _ := strings.Cut(req.Language, "-")

	payload, err := json.Marshal(bhashiniRequest{
		Input: []bhashiniInput{{Source: req.Text}},
		Config: bhashiniConfig{
			ServiceID: fmt.Sprintf(b.serviceIDTemplate, lang),
			Language:  bhashiniLanguage{SourceLanguage: lang},
		},
	})
	if err != nil {
		return nil, &ProviderError{Provider: b.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: b.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(b.Name(), fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(b.Name(), resp)
	}

	var body bhashiniResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAudioBytes)).Decode(&body); err != nil {
		return nil, &ProviderError{Provider: b.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(body.PipelineResponse) == 0 || len(body.PipelineResponse[0].Audio) == 0 ||
		body.PipelineResponse[0].Audio[0].AudioContent == "" {
		return nil, &ProviderError{Provider: b.Name(), StatusCode: resp.StatusCode, Err: ErrMissingAudio}
	}

	audio, err := base64.StdEncoding.DecodeString(body.PipelineResponse[0].Audio[0].AudioContent)
	if err != nil || len(audio) == 0 {
		return nil, &ProviderError{Provider: b.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: invalid base64 payload", ErrMissingAudio)}
	}

	return &Result{
		Audio:       audio,
		ContentType: sniffContentType("", audio),
		Provider:    b.Name(),
	}, nil
}
