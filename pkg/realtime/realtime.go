// Package realtime defines the Provider interface for realtime voice AI
// backends.
//
// A realtime provider wraps a bidirectional speech service that accepts raw
// audio input and streams synthesised audio output in a single, stateful
// session. The session is treated as an opaque duplex channel: callers push
// PCM chunks in, and receive a multiplexed stream of events (audio chunks,
// barge-in interruptions, transcript text) back.
//
// All implementations must be safe for concurrent use.
package realtime

import "context"

// EventType classifies events emitted by a [Session].
type EventType int

const (
	// EventAudio carries a decoded PCM chunk of synthesised speech.
	EventAudio EventType = iota

	// EventInterrupted signals that the service detected the user speaking
	// over an in-progress response (barge-in). Any buffered or scheduled
	// playback for the current response should be discarded immediately.
	EventInterrupted

	// EventTranscript carries a text transcription fragment, either of user
	// speech or of the model's spoken reply.
	EventTranscript
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventTranscript:
		return "TRANSCRIPT"
	default:
		return "UNKNOWN"
	}
}

// Event is a single message received from the session's server side.
// Exactly one payload field is meaningful, selected by Type.
type Event struct {
	Type EventType

	// Audio holds raw PCM (s16le, mono, at the session's output sample rate)
	// when Type is EventAudio.
	Audio []byte

	// Text holds the transcription fragment when Type is EventTranscript.
	Text string

	// Role identifies the transcript speaker ("user" or "model") when Type
	// is EventTranscript.
	Role string
}

// SessionConfig is the initial configuration for a new realtime session.
// All fields take effect at connect time only; none can be changed on a live
// session.
type SessionConfig struct {
	// Voice selects the prebuilt voice used for synthesised speech output.
	// An empty string uses the provider default.
	Voice string

	// Instructions is the system-level prompt applied to the session.
	Instructions string

	// InputSampleRate is the sample rate in Hz of PCM pushed via SendAudio.
	InputSampleRate int

	// OutputSampleRate is the sample rate in Hz of PCM delivered in
	// EventAudio events.
	OutputSampleRate int
}

// Session represents an open realtime voice session.
//
// Audio delivery is channel-based so the caller's audio thread never blocks
// on network I/O. Consumers must drain Events promptly; a stalled consumer
// backpressures the provider's receive loop. All methods must be safe for
// concurrent use.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers a raw PCM chunk (s16le, mono, at the configured
	// input sample rate) to the service. Chunks are fire-and-forget: there
	// is no retry or backpressure policy beyond the transport's own queuing.
	// Returns an error if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Events returns a read-only channel emitting the session's server-side
	// events. The channel is closed when the session ends, whether cleanly
	// or due to an error. After it closes, call [Session.Err] to distinguish
	// the two.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if the
	// session ended cleanly. Only meaningful after Events has closed.
	Err() error

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime voice backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new session with the given configuration.
	// The returned Session is ready to accept audio immediately. The caller
	// owns the Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Voices lists the prebuilt voice identifiers this provider accepts in
	// [SessionConfig.Voice].
	Voices() []string
}
