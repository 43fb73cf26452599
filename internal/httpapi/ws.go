package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/narration-gateway/internal/config"
	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/playback"
	"github.com/lexiqai/narration-gateway/internal/textseg"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

const (
	writeWait = 10 * time.Second
	readWait  = 120 * time.Second
	readLimit = 1 << 20
	// pingPeriod must stay below readWait so an idle browser's pongs keep the read deadline alive
	pingPeriod = readWait * 9 / 10
)

// Client -> server message types
const (
	msgSpeak = "speak"
	msgStop  = "stop"
	msgEnded = "ended"
	msgError = "error"
)

// Server -> client message types
const (
	msgAudio      = "audio"
	msgState      = "state"
	msgSessionEnd = "session_end"
)

// ClientMessage is any message the browser sends on /narrate/ws
type ClientMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Lang   string `json:"lang,omitempty"`
	Seq    int    `json:"seq,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// AudioMessage asks the browser to play one chunk and report "ended" or "error" for seq.
// Seq counts every audio message on the connection and never restarts, so an ack
// from a replaced session cannot match a newer chunk. Index is the chunk's position
// within its session.
type AudioMessage struct {
	Type      string `json:"type"`
	Seq       int    `json:"seq"`
	Index     int    `json:"index"`
	URL       string `json:"url"`
	ShortText string `json:"shortText"`
	Provider  string `json:"provider,omitempty"`
}

type StateMessage struct {
	Type     string `json:"type"`
	Speaking bool   `json:"speaking"`
}

type SessionEndMessage struct {
	Type      string `json:"type"`
	Played    int    `json:"played"`
	Failed    int    `json:"failed"`
	Cancelled bool   `json:"cancelled"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type controlMessage struct {
	Type string `json:"type"`
}

// wsConn serializes writes to one websocket
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger zerolog.Logger
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		observability.RecordError("ws_write", "httpapi")
		c.logger.Debug().Err(err).Msg("WebSocket write failed")
		return err
	}
	return nil
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// keepAlive pings the browser until ctx is done so idle connections outlive readWait
func (c *wsConn) keepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.logger.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}
		}
	}
}

// errChunkRejected wraps the browser's report that it could not play a chunk
var errChunkRejected = errors.New("browser could not play chunk")

// wsSink plays chunks in the browser: it sends the audio and waits for the
// matching "ended" or "error" message
type wsSink struct {
	conn    *wsConn
	timeout time.Duration

	mu      sync.Mutex
	next    int
	waiting int
	acks    chan error
}

func newWSSink(conn *wsConn, timeout time.Duration) *wsSink {
	return &wsSink{conn: conn, timeout: timeout, waiting: -1}
}

func (s *wsSink) Play(ctx context.Context, chunk textseg.Chunk, res *tts.Result) error {
	acks := make(chan error, 1)
	s.mu.Lock()
	seq := s.next
	s.next++
	s.waiting = seq
	s.acks = acks
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waiting = -1
		s.acks = nil
		s.mu.Unlock()
	}()

	msg := AudioMessage{
		Type:      msgAudio,
		Seq:       seq,
		Index:     chunk.Index,
		URL:       res.DataURI(),
		ShortText: chunk.Text,
		Provider:  res.Provider,
	}
	if err := s.conn.send(msg); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-acks:
		return err
	case <-timer.C:
		return fmt.Errorf("no ended event for chunk %d (seq %d) within %s", chunk.Index, seq, s.timeout)
	case <-ctx.Done():
		// Silence the browser; the orchestrator discards the rest of the session
		_ = s.conn.send(controlMessage{Type: msgStop})
		return ctx.Err()
	}
}

// resolve delivers a browser acknowledgement. Stale or unexpected seqs are ignored.
func (s *wsSink) resolve(seq int, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acks == nil || s.waiting != seq {
		return false
	}
	s.acks <- err
	s.acks = nil
	return true
}

// handleNarrateWS runs one orchestrator per connection. The browser is the sink.
func (s *Server) handleNarrateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := observability.FromContext(r.Context()).With().
		Str("ws_id", observability.NewCorrelationID()).
		Logger()

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	defer cancel()

	out := &wsConn{conn: conn, logger: logger}
	sink := newWSSink(out, time.Duration(s.cfg.PlaybackTimeout)*time.Second)
	orch := playback.New(s.synth, sink, playbackOptions(s.cfg))
	defer orch.Close()

	orch.OnStateChange(func(speaking bool) {
		_ = out.send(StateMessage{Type: msgState, Speaking: speaking})
	})
	orch.OnSessionEnd(func(report playback.SessionReport) {
		if report.Err != nil {
			_ = out.send(ErrorMessage{Type: msgError, Error: report.Err.Error()})
		}
		_ = out.send(SessionEndMessage{
			Type:      msgSessionEnd,
			Played:    report.Played,
			Failed:    report.Failed,
			Cancelled: report.Cancelled,
		})
	})

	logger.Info().Msg("Narration connection opened")

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	go out.keepAlive(ctx, s.pingPeriod)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Narration connection closed unexpectedly")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if msgType != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = out.send(ErrorMessage{Type: msgError, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case msgSpeak:
			lang := strings.TrimSpace(msg.Lang)
			if strings.TrimSpace(msg.Text) == "" || lang == "" {
				_ = out.send(ErrorMessage{Type: msgError, Error: "text and lang are required"})
				continue
			}
			if err := orch.Speak(ctx, msg.Text, lang); err != nil {
				_ = out.send(ErrorMessage{Type: msgError, Error: err.Error()})
			}
		case msgStop:
			orch.Stop()
		case msgEnded:
			sink.resolve(msg.Seq, nil)
		case msgError:
			detail := msg.Detail
			if detail == "" {
				detail = "unknown error"
			}
			sink.resolve(msg.Seq, fmt.Errorf("%w: %s", errChunkRejected, detail))
		default:
			_ = out.send(ErrorMessage{Type: msgError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}

	logger.Info().Msg("Narration connection closed")
}

func playbackOptions(cfg *config.Config) playback.Options {
	return playback.Options{MaxChunkLength: cfg.MaxChunkLength}
}
