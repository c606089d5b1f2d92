// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 chunks; server-side voice
// activity detection ("speech started" while a response is playing) is
// surfaced as a realtime.EventInterrupted event.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxterm/voxterm/pkg/realtime"
)

// Compile-time assertions that Provider and session satisfy the realtime interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	eventBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Voices lists the prebuilt OpenAI Realtime voice names.
func (p *Provider) Voices() []string {
	return []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}
}

// Connect establishes a new OpenAI Realtime session with the given
// configuration. The returned Session is ready to accept audio immediately
// after the session.update message is sent.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan realtime.Event, eventBuf),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string `json:"voice,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// currentTxText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received.
	currentTxText string

	// responding is true between the first audio delta of a response and
	// response.done. Speech-started events outside a response are ordinary
	// turn-taking, not barge-in.
	responding bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, and audio formats.
func (s *session) sendSessionUpdate(cfg realtime.SessionConfig) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		s.mu.Lock()
		s.responding = true
		s.mu.Unlock()
		s.emit(realtime.Event{Type: realtime.EventAudio, Audio: audioData})

	case "input_audio_buffer.speech_started":
		// Barge-in only while a response is streaming.
		s.mu.Lock()
		interrupting := s.responding
		s.responding = false
		s.mu.Unlock()
		if interrupting {
			s.emit(realtime.Event{Type: realtime.EventInterrupted})
		}

	case "response.done":
		s.mu.Lock()
		s.responding = false
		s.mu.Unlock()

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.currentTxText += evt.Delta
		s.mu.Unlock()

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText
		s.currentTxText = ""
		s.mu.Unlock()

		if text == "" {
			return
		}
		s.emit(realtime.Event{Type: realtime.EventTranscript, Text: text, Role: "model"})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(realtime.Event{Type: realtime.EventTranscript, Text: evt.Transcript, Role: "user"})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.setErr(fmt.Errorf("openai: %s", msg))
	}
}

// emit delivers ev to the events channel unless the session context is
// cancelled first.
func (s *session) emit(ev realtime.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the input audio buffer.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Events returns the channel on which server events arrive.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
