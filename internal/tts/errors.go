package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/narration-gateway/internal/resilience"
)

var (
	// ErrProviderUnavailable matches any single-provider failure
	ErrProviderUnavailable = errors.New("tts provider unavailable")
	// ErrSynthesisExhausted matches a request for which every candidate failed
	ErrSynthesisExhausted = errors.New("all tts providers failed")

	ErrMissingAudio        = errors.New("response did not contain audio content")
	ErrNoRoute             = errors.New("no tts providers configured for language")
	ErrEmptyText           = errors.New("text is empty")
	ErrTextTooLong         = errors.New("text exceeds maximum length")
	ErrUnsupportedLanguage = errors.New("language not supported by provider")
)

// ProviderError is one candidate's failure
type ProviderError struct {
	Provider   string
	StatusCode int // upstream HTTP status, 0 when none was received
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tts provider %s failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tts provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// SynthesisError is returned when the fallback chain is exhausted. It carries
// the last attempted provider and its upstream status.
type SynthesisError struct {
	Language   string
	Provider   string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for %q after %d provider(s), last %s: %v",
		e.Language, e.Attempts, e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

func (e *SynthesisError) Is(target error) bool {
	return target == ErrSynthesisExhausted
}

// statusError builds a ProviderError from a non-2xx upstream response
func statusError(provider string, resp *http.Response) *ProviderError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Retryable:  resilience.IsRetryableHTTPStatus(resp.StatusCode),
		Err:        fmt.Errorf("upstream returned %s: %s", resp.Status, msg),
	}
}

// transportError wraps a failure that happened before any response arrived
func transportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Retryable: !errors.Is(err, context.Canceled) && resilience.IsRetryableNetworkError(err),
		Err:       err,
	}
}

func asProviderError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return transportError(provider, err)
}

func isRetryableProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return resilience.IsRetryableNetworkError(err)
}
