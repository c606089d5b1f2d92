package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxterm/voxterm/pkg/realtime"
	"github.com/voxterm/voxterm/pkg/realtime/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server standing in for the
// OpenAI Realtime endpoint.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func newProvider(srv *httptest.Server) *openai.Provider {
	return openai.New("test-api-key", openai.WithBaseURL(wsURL(srv)))
}

func sessionConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
	}
}

func audioDelta(pcm []byte) map[string]any {
	return map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString(pcm),
	}
}

// nextEvent waits for one event of the given type, skipping others.
func nextEvent(t *testing.T, sess realtime.Session, typ realtime.EventType) realtime.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %v", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v event", typ)
		}
	}
}

// ── TestConnect ───────────────────────────────────────────────────────────────

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type updateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice             string `json:"voice"`
			Instructions      string `json:"instructions"`
			InputAudioFormat  string `json:"input_audio_format"`
			OutputAudioFormat string `json:"output_audio_format"`
		} `json:"session"`
	}

	received := make(chan updateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg updateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	cfg := sessionConfig()
	cfg.Voice = "alloy"
	cfg.Instructions = "Answer briefly."

	sess, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "alloy" {
			t.Errorf("voice = %q; want alloy", msg.Session.Voice)
		}
		if msg.Session.Instructions != "Answer briefly." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q; want pcm16/pcm16",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_SetsAuthAndModel(t *testing.T) {
	t.Parallel()

	type reqInfo struct {
		auth  string
		beta  string
		query string
	}
	info := make(chan reqInfo, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		info <- reqInfo{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			query: r.URL.RawQuery,
		}
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("secret-key", openai.WithModel("custom-realtime"), openai.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case got := <-info:
		if got.auth != "Bearer secret-key" {
			t.Errorf("Authorization = %q; want Bearer secret-key", got.auth)
		}
		if got.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", got.beta)
		}
		if !strings.Contains(got.query, "model=custom-realtime") {
			t.Errorf("query %q missing model=custom-realtime", got.query)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

// ── TestSendAudio ─────────────────────────────────────────────────────────────

func TestSendAudio_AppendsToInputBuffer(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	received := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update

		var msg appendMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	wantPCM := []byte{0x10, 0x20, 0x30}
	if err := sess.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		got, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for append message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = sess.Close()

	if err := sess.SendAudio([]byte{1, 2, 3}); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

// ── TestEvents ────────────────────────────────────────────────────────────────

func TestEvents_DeliversDecodedAudio(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC}

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, audioDelta(wantPCM))
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess, realtime.EventAudio)
	if string(ev.Audio) != string(wantPCM) {
		t.Errorf("audio chunk = %v; want %v", ev.Audio, wantPCM)
	}
}

func TestEvents_SpeechStartedDuringResponse_IsBargeIn(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		// A response is streaming when the user speaks over it.
		writeJSON(t, conn, audioDelta([]byte{0x01, 0x02}))
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	nextEvent(t, sess, realtime.EventAudio)
	nextEvent(t, sess, realtime.EventInterrupted)
}

func TestEvents_SpeechStartedWhileIdle_IsNotBargeIn(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		// No response in flight: ordinary turn-taking, then audio.
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, audioDelta([]byte{0x0A}))
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	// The first event we see must be the audio, not an interruption.
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		if ev.Type != realtime.EventAudio {
			t.Fatalf("first event = %v; want EventAudio", ev.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio event")
	}
}

func TestEvents_SpeechStartedAfterResponseDone_IsNotBargeIn(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, audioDelta([]byte{0x01}))
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, audioDelta([]byte{0x02}))
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	nextEvent(t, sess, realtime.EventAudio)

	// Next delivered event must be the second audio chunk; the speech_started
	// after response.done is swallowed.
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		if ev.Type != realtime.EventAudio {
			t.Fatalf("event after response.done = %v; want EventAudio", ev.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for second audio event")
	}
}

func TestEvents_TranscriptAccumulatedUntilDone(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hello, "})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "world!"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess, realtime.EventTranscript)
	if ev.Text != "Hello, world!" {
		t.Errorf("transcript = %q; want %q", ev.Text, "Hello, world!")
	}
	if ev.Role != "model" {
		t.Errorf("role = %q; want model", ev.Role)
	}
}

func TestEvents_UserTranscription(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "How tall is Everest?",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess, realtime.EventTranscript)
	if ev.Text != "How tall is Everest?" {
		t.Errorf("transcript = %q", ev.Text)
	}
	if ev.Role != "user" {
		t.Errorf("role = %q; want user", ev.Role)
	}
}

// ── TestErr / TestClose ───────────────────────────────────────────────────────

func TestErr_SetOnErrorEvent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "invalid session parameters",
			},
		})
		conn.Close(websocket.StatusInternalError, "error")
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, open := <-sess.Events():
			if !open {
				if sess.Err() == nil {
					t.Fatal("Err() = nil; want error event surfaced")
				}
				if !strings.Contains(sess.Err().Error(), "invalid session parameters") {
					t.Errorf("Err() = %v", sess.Err())
				}
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for session to terminate")
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), sessionConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = sess.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, open := <-sess.Events():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for events channel to close")
		}
	}
}
