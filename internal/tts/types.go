package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// DefaultContentType is what every configured engine returns unless it says otherwise.
const DefaultContentType = "audio/mpeg"

// Request is one chunk of text to synthesize in a language
type Request struct {
	Text     string
	Language string
}

// Result is encoded audio for one request. Audio is shared between callers
// that asked for the same text at the same time and must not be modified.
type Result struct {
	Audio       []byte
	ContentType string
	Provider    string
	Cached      bool
}

// DataURI encodes the audio as a base64 data URI playable by a browser audio element
func (r *Result) DataURI() string {
	ct := r.ContentType
	if ct == "" {
		ct = DefaultContentType
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(r.Audio)
}

// ParseDataURI decodes a base64 data URI produced by DataURI
func ParseDataURI(uri string) (*Result, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data uri")
	}
	ct, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, fmt.Errorf("data uri is not base64 encoded")
	}
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data uri: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrMissingAudio
	}
	if ct == "" {
		ct = DefaultContentType
	}
	return &Result{Audio: audio, ContentType: ct}, nil
}

// Provider is one speech-synthesis backend
type Provider interface {
	// Name identifies the provider in routing tables, logs and errors
	Name() string

	// Synthesize returns encoded audio for the request. Failures should be
	// *ProviderError so the proxy can classify them.
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// LanguageSupporter is implemented by providers with a fixed language list.
// The proxy skips them for other languages without calling upstream.
type LanguageSupporter interface {
	Supports(lang string) bool
}

// sniffContentType prefers an audio/* header from upstream, then content sniffing.
// It returns "" when the payload does not look like audio.
func sniffContentType(header string, data []byte) string {
	if mt, _, _ := strings.Cut(header, ";"); strings.HasPrefix(strings.TrimSpace(mt), "audio/") {
		return strings.TrimSpace(mt)
	}
	switch ct := http.DetectContentType(data); {
	case strings.HasPrefix(ct, "audio/"):
		return ct
	case strings.HasPrefix(ct, "text/"):
		return ""
	}
	return DefaultContentType
}
