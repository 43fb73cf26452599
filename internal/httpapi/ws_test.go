package httpapi

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/narration-gateway/internal/config"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

// serverMessage is the union of everything the server sends
type serverMessage struct {
	Type      string `json:"type"`
	Seq       int    `json:"seq"`
	Index     int    `json:"index"`
	URL       string `json:"url"`
	ShortText string `json:"shortText"`
	Speaking  bool   `json:"speaking"`
	Played    int    `json:"played"`
	Failed    int    `json:"failed"`
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error"`
}

func dialNarrate(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/narrate/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil reads messages until one of type want arrives and returns everything read
func readUntil(t *testing.T, conn *websocket.Conn, want string) []serverMessage {
	t.Helper()
	var got []serverMessage
	for {
		msg := readMessage(t, conn)
		got = append(got, msg)
		if msg.Type == want {
			return got
		}
	}
}

func types(msgs []serverMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestNarrateWS_PlaysChunksInOrder(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "One. Two.", Lang: "en"})

	state := readMessage(t, conn)
	assert.Equal(t, "state", state.Type)
	assert.True(t, state.Speaking)

	first := readMessage(t, conn)
	require.Equal(t, "audio", first.Type)
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, "One.", first.ShortText)
	audio, err := tts.ParseDataURI(first.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:One."), audio.Audio)
	send(t, conn, ClientMessage{Type: "ended", Seq: 0})

	second := readMessage(t, conn)
	require.Equal(t, "audio", second.Type)
	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, " Two.", second.ShortText)
	send(t, conn, ClientMessage{Type: "ended", Seq: 1})

	rest := readUntil(t, conn, "session_end")
	assert.Equal(t, []string{"state", "session_end"}, types(rest))
	assert.False(t, rest[0].Speaking)
	assert.Equal(t, 2, rest[1].Played)
	assert.False(t, rest[1].Cancelled)
}

func TestNarrateWS_BrowserErrorSkipsChunk(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "One. Two.", Lang: "en"})
	readUntil(t, conn, "audio")
	send(t, conn, ClientMessage{Type: "error", Seq: 0, Detail: "decode failed"})

	next := readMessage(t, conn)
	require.Equal(t, "audio", next.Type)
	assert.Equal(t, 1, next.Seq)
	send(t, conn, ClientMessage{Type: "ended", Seq: 1})

	msgs := readUntil(t, conn, "session_end")
	end := msgs[len(msgs)-1]
	assert.Equal(t, 1, end.Played)
	assert.Equal(t, 1, end.Failed)
}

func TestNarrateWS_StaleAckIgnored(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "One. Two.", Lang: "en"})
	readUntil(t, conn, "audio")
	send(t, conn, ClientMessage{Type: "ended", Seq: 7})
	send(t, conn, ClientMessage{Type: "ended", Seq: 0})

	next := readMessage(t, conn)
	require.Equal(t, "audio", next.Type)
	assert.Equal(t, 1, next.Seq)
}

func TestNarrateWS_Stop(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "One. Two.", Lang: "en"})
	readUntil(t, conn, "audio")
	send(t, conn, ClientMessage{Type: "stop"})

	msgs := readUntil(t, conn, "session_end")
	assert.Equal(t, []string{"stop", "state", "session_end"}, types(msgs))
	assert.False(t, msgs[1].Speaking)
	assert.True(t, msgs[2].Cancelled)
	assert.Zero(t, msgs[2].Played)
}

func TestNarrateWS_SpeakReplacesSession(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "Hello. World.", Lang: "en"})
	readUntil(t, conn, "audio")
	send(t, conn, ClientMessage{Type: "speak", Text: "Goodbye.", Lang: "en"})

	msgs := readUntil(t, conn, "audio")
	last := msgs[len(msgs)-1]
	assert.Equal(t, "Goodbye.", last.ShortText)
	assert.Equal(t, 1, last.Seq)
	assert.Equal(t, 0, last.Index)
	assert.Contains(t, types(msgs), "stop")

	var ended []serverMessage
	for _, m := range msgs {
		if m.Type == "session_end" {
			ended = append(ended, m)
		}
	}
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Cancelled)
}

func TestNarrateWS_LateAckFromReplacedSessionIgnored(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "One. Two.", Lang: "en"})
	first := readUntil(t, conn, "audio")
	require.Equal(t, 0, first[len(first)-1].Seq)

	send(t, conn, ClientMessage{Type: "speak", Text: "Three. Four.", Lang: "en"})
	msgs := readUntil(t, conn, "audio")
	current := msgs[len(msgs)-1]
	assert.Equal(t, "Three.", current.ShortText)
	assert.Equal(t, 1, current.Seq)
	assert.Equal(t, 0, current.Index)

	// The first session's ack arrives after the replacement started
	send(t, conn, ClientMessage{Type: "ended", Seq: 0})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var msg serverMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err, "unexpected %q message seq %d after a stale ack", msg.Type, msg.Seq)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestNarrateWS_LateAckThenCurrentAck(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "One. Two.", Lang: "en"})
	readUntil(t, conn, "audio")
	send(t, conn, ClientMessage{Type: "speak", Text: "Three. Four.", Lang: "en"})
	readUntil(t, conn, "audio")

	send(t, conn, ClientMessage{Type: "ended", Seq: 0})
	send(t, conn, ClientMessage{Type: "ended", Seq: 1})

	next := readMessage(t, conn)
	require.Equal(t, "audio", next.Type)
	assert.Equal(t, 2, next.Seq)
	assert.Equal(t, 1, next.Index)
	assert.Equal(t, " Four.", next.ShortText)
	send(t, conn, ClientMessage{Type: "ended", Seq: 2})

	rest := readUntil(t, conn, "session_end")
	assert.Equal(t, 2, rest[len(rest)-1].Played)
}

func TestNarrateWS_PingsIdleConnections(t *testing.T) {
	srv := New(testConfig(), &stubSynth{}, nil)
	srv.pingPeriod = 20 * time.Millisecond
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	conn := dialNarrate(t, ts, nil)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Control frames are only handled while reading
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never pinged an idle connection")
	}
}

func TestNarrateWS_AllChunksFailReportsOneError(t *testing.T) {
	synth := &stubSynth{fail: map[string]error{
		"One.": errors.New("exhausted"),
		"Two.": errors.New("exhausted"),
	}}
	ts := newTestServer(t, testConfig(), synth, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "One. Two.", Lang: "en"})

	msgs := readUntil(t, conn, "session_end")
	assert.Equal(t, []string{"state", "state", "error", "session_end"}, types(msgs))
	assert.Contains(t, msgs[2].Error, "no chunk could be played")
	assert.Equal(t, 2, msgs[3].Failed)
}

func TestNarrateWS_PlaybackTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PlaybackTimeout = 1
	ts := newTestServer(t, cfg, &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	send(t, conn, ClientMessage{Type: "speak", Text: "Only.", Lang: "en"})

	msgs := readUntil(t, conn, "session_end")
	assert.Equal(t, []string{"state", "audio", "state", "error", "session_end"}, types(msgs))
	assert.Equal(t, 1, msgs[4].Failed)
}

func TestNarrateWS_InvalidMessages(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	conn := dialNarrate(t, ts, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)

	send(t, conn, ClientMessage{Type: "dance"})
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "dance")

	send(t, conn, ClientMessage{Type: "speak", Text: "Hi."})
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestNarrateWS_OriginCheck(t *testing.T) {
	ts := newTestServer(t, testConfig(), &stubSynth{}, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/narrate/ws"

	header := http.Header{"Origin": []string{"https://elsewhere.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{ts.URL}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()

	cfg := &config.Config{MaxChunkLength: 200, PlaybackTimeout: 5, WSAllowAnyOrigin: true}
	open := newTestServer(t, cfg, &stubSynth{}, nil)
	url = "ws" + strings.TrimPrefix(open.URL, "http") + "/narrate/ws"
	header = http.Header{"Origin": []string{"https://elsewhere.example"}}
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
