package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/playback"
	"github.com/lexiqai/narration-gateway/internal/textseg"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

// handleTTS synthesizes a chunk. Clients send one chunk per request; longer
// text is segmented here as well and answered with one result per piece.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req playback.SynthesisRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, errEmptyBody):
			respondError(w, http.StatusBadRequest, "text and lang are required")
		default:
			respondError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return
	}

	lang := strings.TrimSpace(req.Lang)
	if strings.TrimSpace(req.Text) == "" || lang == "" {
		respondError(w, http.StatusBadRequest, "text and lang are required")
		return
	}

	pieces := textseg.Segment(req.Text, s.cfg.MaxChunkLength)
	if len(pieces) == 0 {
		respondError(w, http.StatusBadRequest, "text and lang are required")
		return
	}

	results := make([]playback.SegmentResult, len(pieces))
	failed := 0
	var lastErr error
	for i, piece := range pieces {
		res, err := s.synth.Synthesize(r.Context(), piece, lang)
		if err != nil {
			failed++
			lastErr = err
			results[i] = playback.SegmentResult{ShortText: piece, Error: err.Error()}
			continue
		}
		results[i] = playback.SegmentResult{
			URL:       res.DataURI(),
			ShortText: piece,
			Provider:  res.Provider,
		}
	}

	if failed == len(pieces) {
		logger.Error().Err(lastErr).Str("lang", lang).Int("chunks", len(pieces)).Msg("Synthesis failed for every chunk")
		status := http.StatusInternalServerError
		if errors.Is(lastErr, tts.ErrNoRoute) {
			status = http.StatusBadRequest
		}
		respondError(w, status, lastErr.Error())
		return
	}
	if failed > 0 {
		logger.Warn().Str("lang", lang).Int("failed", failed).Int("chunks", len(pieces)).Msg("Partial synthesis")
	}

	respondJSON(w, http.StatusOK, playback.SynthesisResponse{Results: results})
}
