package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/narration-gateway/internal/tts"
)

// SynthesisRequest is the POST /tts request body
type SynthesisRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// SegmentResult is one synthesized chunk in a POST /tts response. URL is a data
// URI; it is empty and Error is set when that chunk failed.
type SegmentResult struct {
	URL       string `json:"url"`
	ShortText string `json:"shortText"`
	Provider  string `json:"provider,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SynthesisResponse is the POST /tts response body
type SynthesisResponse struct {
	Results []SegmentResult `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// GatewayError is a non-200 answer from the gateway
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// HTTPSynthesizer requests audio from a narration gateway's POST /tts endpoint
type HTTPSynthesizer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSynthesizer creates a client for the gateway at baseURL
func NewHTTPSynthesizer(baseURL string, client *http.Client) *HTTPSynthesizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSynthesizer{
		endpoint: strings.TrimRight(baseURL, "/") + "/tts",
		client:   client,
	}
}

// Synthesize posts one chunk and returns its audio. If the gateway split the
// chunk further, the parts are joined; that only works for MP3, which is
// frame-concatenable, so other content types fail.
func (h *HTTPSynthesizer) Synthesize(ctx context.Context, text, lang string) (*tts.Result, error) {
	body, err := json.Marshal(SynthesisRequest{Text: text, Lang: lang})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	var out SynthesisResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &GatewayError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	if len(out.Results) == 0 {
		return nil, tts.ErrMissingAudio
	}

	return joinResults(out.Results)
}

func joinResults(results []SegmentResult) (*tts.Result, error) {
	var (
		joined    bytes.Buffer
		first     *tts.Result
		providers []string
	)
	for i, r := range results {
		if r.Error != "" || r.URL == "" {
			msg := r.Error
			if msg == "" {
				msg = tts.ErrMissingAudio.Error()
			}
			return nil, fmt.Errorf("segment %d failed: %s", i, msg)
		}
		res, err := tts.ParseDataURI(r.URL)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		res.Provider = r.Provider
		if len(results) == 1 {
			return res, nil
		}
		if first == nil {
			first = res
		}
		if res.ContentType != tts.DefaultContentType || res.ContentType != first.ContentType {
			return nil, errors.New("gateway split the chunk into parts that cannot be joined")
		}
		joined.Write(res.Audio)
		providers = append(providers, r.Provider)
	}
	return &tts.Result{
		Audio:       joined.Bytes(),
		ContentType: first.ContentType,
		Provider:    strings.Join(providers, ","),
	}, nil
}
