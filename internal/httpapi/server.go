// Package httpapi exposes the narration gateway over HTTP: POST /tts for
// chunk synthesis and a WebSocket endpoint that drives browser playback.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/narration-gateway/internal/config"
	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/playback"
)

// maxBodyBytes caps POST /tts request bodies
const maxBodyBytes = 64 << 10

type Server struct {
	cfg        *config.Config
	synth      playback.Synthesizer
	checks     map[string]observability.HealthCheckFunc
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
}

// New creates a Server. checks feed /ready; nil means always ready.
func New(cfg *config.Config, synth playback.Synthesizer, checks map[string]observability.HealthCheckFunc) *Server {
	return &Server{
		cfg:        cfg,
		synth:      synth,
		checks:     checks,
		pingPeriod: pingPeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.WSAllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients usually omit Origin
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationID)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(s.checks))
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/tts", s.handleTTS)
	r.Get("/narrate/ws", s.handleNarrateWS)

	return r
}

// correlationID tags each request with X-Request-ID (or a fresh id) and stores
// a request logger in the context
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = observability.NewCorrelationID()
		}
		w.Header().Set("X-Request-ID", id)

		logger := observability.WithCorrelationID(id).With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		// Hijacked websocket connections report status 0
		if ww.Status() != 0 {
			logger.Debug().
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("Request handled")
		}
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, playback.SynthesisResponse{Error: message})
}
