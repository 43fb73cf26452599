package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/resilience"
)

const tracerName = "github.com/lexiqai/narration-gateway/internal/tts"

// Cache stores synthesized audio. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Set(ctx context.Context, key string, result *Result) error
}

// Proxy synthesizes text through an ordered fallback chain of providers
type Proxy struct {
	routes        *ProviderConfig
	breakers      map[string]*resilience.CircuitBreaker
	retry         *resilience.RetryConfig
	cache         Cache
	maxTextLength int
	tracer        trace.Tracer
	group         singleflight.Group

	breakerFailures int
	breakerReset    time.Duration
}

// ProxyOption configures a Proxy
type ProxyOption func(*Proxy)

// WithCache enables the synthesis cache
func WithCache(c Cache) ProxyOption {
	return func(p *Proxy) { p.cache = c }
}

// WithRetry sets the same-provider retry policy. The default makes one attempt per provider.
func WithRetry(cfg *resilience.RetryConfig) ProxyOption {
	return func(p *Proxy) {
		if cfg != nil {
			p.retry = cfg
		}
	}
}

// WithCircuitBreaker sets the per-provider breaker thresholds. maxFailures <= 0 disables breakers.
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) ProxyOption {
	return func(p *Proxy) {
		p.breakerFailures = maxFailures
		p.breakerReset = resetTimeout
	}
}

// WithMaxTextLength rejects requests longer than n runes before any provider is called
func WithMaxTextLength(n int) ProxyOption {
	return func(p *Proxy) { p.maxTextLength = n }
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) ProxyOption {
	return func(p *Proxy) { p.tracer = tp.Tracer(tracerName) }
}

// NewProxy creates a Proxy over an immutable routing table
func NewProxy(routes *ProviderConfig, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		routes:          routes,
		retry:           resilience.NoRetry(),
		tracer:          otel.Tracer(tracerName),
		breakerFailures: 5,
		breakerReset:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breakers = make(map[string]*resilience.CircuitBreaker)
	if p.breakerFailures > 0 {
		for _, provider := range routes.Providers() {
			cb := resilience.NewCircuitBreaker(provider.Name(), p.breakerFailures, p.breakerReset)
			cb.OnStateChange(func(name string, state resilience.CircuitState) {
				observability.UpdateCircuitBreakerState(name, int(state))
				logger := observability.GetLogger()
				logger.Warn().
					Str("provider", name).
					Str("state", state.String()).
					Msg("Provider circuit breaker changed state")
			})
			p.breakers[provider.Name()] = cb
		}
	}
	return p
}

// Routes returns the routing table the proxy was built with
func (p *Proxy) Routes() *ProviderConfig {
	return p.routes
}

// Breaker returns the circuit breaker guarding a provider, or nil
func (p *Proxy) Breaker(provider string) *resilience.CircuitBreaker {
	return p.breakers[provider]
}

// Synthesize returns audio for text in lang, trying each candidate for the
// language in order until one succeeds. Identical concurrent requests share one
// upstream chain; a caller whose ctx ends stops waiting with ctx.Err().
func (p *Proxy) Synthesize(ctx context.Context, text, lang string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if p.maxTextLength > 0 {
		if n := utf8.RuneCountInString(text); n > p.maxTextLength {
			return nil, fmt.Errorf("%w: %d > %d characters", ErrTextTooLong, n, p.maxTextLength)
		}
	}

	candidates, err := p.routes.Resolve(lang)
	if err != nil {
		return nil, err
	}

	req := Request{Text: text, Language: NormalizeLanguage(lang)}
	key := CacheKey(req.Language, text)

	// The shared chain outlives any single caller; per-candidate timeouts bound it.
	flight := p.group.DoChan(key, func() (any, error) {
		return p.runChain(context.WithoutCancel(ctx), key, req, candidates)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (p *Proxy) runChain(ctx context.Context, key string, req Request, candidates []Candidate) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("tts.lang", req.Language),
		attribute.Int("tts.text_length", utf8.RuneCountInString(req.Text)),
		attribute.Int("tts.candidates", len(candidates)),
	))
	defer span.End()

	logger := observability.FromContext(ctx)
	start := time.Now()

	if cached := p.lookup(ctx, key); cached != nil {
		span.SetAttributes(attribute.Bool("tts.cache_hit", true), attribute.String("tts.provider", cached.Provider))
		observability.RecordSynthesis(req.Language, true, time.Since(start))
		return cached, nil
	}

	var lastErr *ProviderError
	attempts := 0
	for i, c := range candidates {
		attempts++
		res, err := p.attempt(ctx, c, req)
		if err == nil {
			span.SetAttributes(attribute.String("tts.provider", res.Provider), attribute.Int("tts.attempts", attempts))
			observability.RecordSynthesis(req.Language, true, time.Since(start))
			observability.RecordAudioBytes(res.Provider, len(res.Audio))
			p.store(ctx, key, res)
			return res, nil
		}

		lastErr = asProviderError(c.Provider.Name(), err)
		logger.Warn().
			Err(lastErr.Err).
			Str("provider", lastErr.Provider).
			Str("lang", req.Language).
			Int("status", lastErr.StatusCode).
			Msg("TTS provider failed")

		if i < len(candidates)-1 {
			observability.RecordFallback(req.Language)
		}
	}

	synthErr := &SynthesisError{
		Language:   req.Language,
		Provider:   lastErr.Provider,
		StatusCode: lastErr.StatusCode,
		Attempts:   attempts,
		Err:        lastErr,
	}
	logger.Error().
		Err(lastErr.Err).
		Str("lang", req.Language).
		Str("last_provider", synthErr.Provider).
		Int("status", synthErr.StatusCode).
		Int("attempts", attempts).
		Msg("All TTS providers failed")
	observability.RecordSynthesis(req.Language, false, time.Since(start))
	observability.RecordError("synthesis_exhausted", "tts")
	span.RecordError(synthErr)
	span.SetStatus(codes.Error, "synthesis exhausted")
	return nil, synthErr
}

// attempt runs one candidate under its timeout, breaker and retry policy
func (p *Proxy) attempt(ctx context.Context, c Candidate, req Request) (*Result, error) {
	name := c.Provider.Name()

	if ls, ok := c.Provider.(LanguageSupporter); ok && !ls.Supports(req.Language) {
		observability.RecordProviderAttempt(name, "unsupported", 0)
		return nil, &ProviderError{Provider: name, Err: fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)}
	}

	breaker := p.breakers[name]
	if breaker != nil && !breaker.Allow() {
		observability.RecordProviderAttempt(name, "circuit_open", 0)
		return nil, &ProviderError{Provider: name, Err: resilience.ErrCircuitOpen}
	}

	ctx, span := p.tracer.Start(ctx, "tts.provider", trace.WithAttributes(
		attribute.String("tts.provider", name),
		attribute.Int64("tts.timeout_ms", c.Timeout.Milliseconds()),
	))
	defer span.End()

	start := time.Now()
	var result *Result
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		defer cancel()

		res, err := c.Provider.Synthesize(attemptCtx, req)
		if err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return asProviderError(name, err)
		}
		if res == nil || len(res.Audio) == 0 {
			return &ProviderError{Provider: name, Err: ErrMissingAudio}
		}
		result = res
		return nil
	}, p.retry, isRetryableProviderError)

	elapsed := time.Since(start)
	if breaker != nil {
		breaker.RecordResult(err == nil)
	}

	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		observability.RecordProviderAttempt(name, outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	observability.RecordProviderAttempt(name, "success", elapsed)
	if result.Provider == "" {
		result.Provider = name
	}
	if result.ContentType == "" {
		result.ContentType = DefaultContentType
	}
	return result, nil
}

func (p *Proxy) lookup(ctx context.Context, key string) *Result {
	if p.cache == nil {
		return nil
	}
	res, ok, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.RecordCacheLookup("error")
		observability.FromContext(ctx).Debug().Err(err).Msg("Synthesis cache lookup failed")
		return nil
	case !ok:
		observability.RecordCacheLookup("miss")
		return nil
	}
	observability.RecordCacheLookup("hit")
	res.Cached = true
	return res
}

func (p *Proxy) store(ctx context.Context, key string, res *Result) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, key, res); err != nil {
		observability.FromContext(ctx).Debug().Err(err).Msg("Synthesis cache store failed")
	}
}

// CacheKey identifies synthesized audio for a language and text
func CacheKey(lang, text string) string {
	sum := sha256.Sum256([]byte(NormalizeLanguage(lang) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
