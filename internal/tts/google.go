package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/lexiqai/narration-gateway/internal/config"
)

// maxAudioBytes caps how much of an upstream audio response is read into memory
const maxAudioBytes = 16 << 20

// GoogleProvider uses the keyless Google Translate speech endpoint
type GoogleProvider struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGoogleProvider creates a Google Translate TTS provider. Upstream calls are
// spaced by at least GoogleMinInterval milliseconds.
func NewGoogleProvider(cfg *config.Config, httpClient *http.Client) *GoogleProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	if cfg.GoogleMinInterval > 0 {
		limit = rate.Every(config.Millis(cfg.GoogleMinInterval))
	}
	return &GoogleProvider{
		baseURL:    cfg.GoogleURL,
		userAgent:  cfg.GoogleUserAgent,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (g *GoogleProvider) Name() string { return "google" }

func (g *GoogleProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if n := utf8.RuneCountInString(req.Text); n > config.GoogleMaxTextLength {
		return nil, &ProviderError{
			Provider: g.Name(),
			Err:      fmt.Errorf("%w: %d > %d characters", ErrTextTooLong, n, config.GoogleMaxTextLength),
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, transportError(g.Name(), err)
	}

	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", req.Text)
	q.Set("tl", req.Language)
	q.Set("client", "tw-ob")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("User-Agent", g.userAgent)
	httpReq.Header.Set("Referer", "https://translate.google.com/")

	started := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(g.Name(), fmt.Errorf("failed to make request after %s: %w", time.Since(started).Round(time.Millisecond), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(g.Name(), resp)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, transportError(g.Name(), fmt.Errorf("failed to read audio: %w", err))
	}
	ct := sniffContentType(resp.Header.Get("Content-Type"), audio)
	if len(audio) == 0 || ct == "" {
		// An HTML body means a captcha or error page
		return nil, &ProviderError{Provider: g.Name(), StatusCode: resp.StatusCode, Err: ErrMissingAudio}
	}

	return &Result{Audio: audio, ContentType: ct, Provider: g.Name()}, nil
}
