// Package app owns the voice session lifecycle for voxterm.
//
// The [Controller] is a small state machine:
//
//	disconnected → connecting → connected → (disconnected | error)
//
// Start allocates the playback and capture graphs, opens the microphone, and
// connects the realtime channel. Every failure or close collapses the whole
// session back to the disconnected baseline via a single idempotent teardown
// path; there is no partial-failure state and no retry. At most one session
// is live at a time.
//
// For testing, inject fakes via functional options (WithSinkFactory,
// WithDeviceFactory, WithMetrics). When an option is not provided, the
// controller creates real device-backed implementations.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxterm/voxterm/internal/capture"
	"github.com/voxterm/voxterm/internal/config"
	"github.com/voxterm/voxterm/internal/meter"
	"github.com/voxterm/voxterm/internal/observe"
	"github.com/voxterm/voxterm/internal/playback"
	"github.com/voxterm/voxterm/pkg/audio"
	"github.com/voxterm/voxterm/pkg/realtime"
)

// State is the lifecycle state of the voice session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CaptureDevice is the microphone stream owned by a session. Implemented by
// [capture.Device]; tests substitute a fake.
type CaptureDevice interface {
	Stop()
}

// SinkFactory opens a playback sink at the given output format.
type SinkFactory func(sampleRate, channels int) (playback.Sink, error)

// DeviceFactory opens a capture device feeding pipeline at the given rate.
type DeviceFactory func(sampleRate int, pipeline *capture.Pipeline) (CaptureDevice, error)

// Option is a functional option for NewController. Use these to inject test
// doubles.
type Option func(*Controller)

// WithSinkFactory injects a playback sink factory instead of opening the
// default output device.
func WithSinkFactory(f SinkFactory) Option {
	return func(c *Controller) { c.newSink = f }
}

// WithDeviceFactory injects a capture device factory instead of opening the
// default microphone.
func WithDeviceFactory(f DeviceFactory) Option {
	return func(c *Controller) { c.newDevice = f }
}

// WithMetrics injects a Metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock injects the playback stream clock. Used in tests.
func WithClock(clock playback.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// Controller drives the session lifecycle and owns every audio resource of
// the live session. All exported methods are safe for concurrent use.
type Controller struct {
	cfg      *config.Config
	provider realtime.Provider
	metrics  *observe.Metrics

	newSink   SinkFactory
	newDevice DeviceFactory
	clock     playback.Clock

	mu          sync.Mutex
	state       State
	errMsg      string
	session     realtime.Session
	device      CaptureDevice
	pipeline    *capture.Pipeline
	sched       *playback.Scheduler
	meter       *meter.Meter
	connectedAt time.Time
	muted       bool

	onState    func(State, string)
	onSpeaking func(bool)
}

// NewController creates a Controller in the disconnected state. The provider
// is fixed for the controller's lifetime; session settings (voice,
// instructions) are re-read from cfg on every Start.
func NewController(cfg *config.Config, provider realtime.Provider, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		provider: provider,
		state:    StateDisconnected,
		newSink: func(rate, ch int) (playback.Sink, error) {
			return playback.NewDeviceSink(rate, ch)
		},
		newDevice: func(rate int, p *capture.Pipeline) (CaptureDevice, error) {
			return capture.NewDevice(rate, p)
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// OnStateChange registers cb to be invoked on every lifecycle transition,
// with the new state and the user-visible error message (empty unless the
// state is StateError). Only one callback may be registered at a time.
func (c *Controller) OnStateChange(cb func(State, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = cb
}

// OnSpeakingChange registers cb to be invoked whenever the assistant starts
// or stops being audible.
func (c *Controller) OnSpeakingChange(cb func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSpeaking = cb
}

// State returns the current lifecycle state and, when the state is
// StateError, the user-visible message.
func (c *Controller) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.errMsg
}

// Speaking reports whether synthesised audio is currently scheduled.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	return sched != nil && sched.Speaking()
}

// Intensity returns the current microphone intensity in [0, 1], or 0 when
// disconnected.
func (c *Controller) Intensity() float64 {
	c.mu.Lock()
	m := c.meter
	c.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.Intensity()
}

// SetMuted sets the mute flag. The flag survives reconnects; muting never
// pauses capture, it only drops blocks before transmission.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	pipeline := c.pipeline
	c.mu.Unlock()
	if pipeline != nil {
		pipeline.SetMuted(muted)
	}
}

// Muted reports the current mute flag.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Instructions returns the system instructions that will be sent on the next
// connect.
func (c *Controller) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Session.Instructions
}

// SetInstructions updates the system instructions. The live session is not
// affected; the new text applies on the next Start.
func (c *Controller) SetInstructions(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Session.Instructions = text
}

// Start brings up a new session: playback graph, intensity meter, microphone,
// then the realtime channel. A Start while connecting or connected is a
// no-op. On any failure the controller tears everything down, enters the
// error state with a user-visible message, and returns the error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting, "")

	// Playback graph at the fixed output rate.
	sink, err := c.newSink(c.cfg.Session.OutputSampleRate, 1)
	if err != nil {
		c.failLocked(fmt.Sprintf("audio output unavailable: %v", err))
		c.mu.Unlock()
		return fmt.Errorf("app: open sink: %w", err)
	}
	var schedOpts []playback.Option
	if c.clock != nil {
		schedOpts = append(schedOpts, playback.WithClock(c.clock))
	}
	c.sched = playback.NewScheduler(sink, c.cfg.Session.OutputSampleRate, 1, schedOpts...)
	c.sched.OnSpeakingChange(func(on bool) {
		c.mu.Lock()
		cb := c.onSpeaking
		c.mu.Unlock()
		if cb != nil {
			cb(on)
		}
	})

	c.meter = meter.New(nil)

	// Capture graph. The send closure reads the live session under the lock
	// on every block, so a reconnect or teardown is picked up immediately.
	c.pipeline = capture.NewPipeline(
		func(chunk []byte) error {
			c.mu.Lock()
			sess := c.session
			c.mu.Unlock()
			if sess == nil {
				c.metrics.ChunksDropped.Add(context.Background(), 1)
				return nil // not connected yet; drop
			}
			if err := sess.SendAudio(chunk); err != nil {
				c.metrics.ChunksDropped.Add(context.Background(), 1)
				return err
			}
			c.metrics.ChunksSent.Add(context.Background(), 1)
			return nil
		},
		func(level float64) {
			c.mu.Lock()
			m := c.meter
			c.mu.Unlock()
			if m != nil {
				m.Push(level)
			}
		},
		capture.WithDropHook(func() {
			c.metrics.ChunksMuted.Add(context.Background(), 1)
		}),
		capture.WithTargetRate(c.cfg.Session.InputSampleRate),
	)
	c.pipeline.SetMuted(c.muted)

	device, err := c.newDevice(c.cfg.Session.InputSampleRate, c.pipeline)
	if err != nil {
		msg := fmt.Sprintf("microphone unavailable: %v", err)
		c.mu.Unlock()
		c.teardown(msg)
		return fmt.Errorf("app: open microphone: %w", err)
	}
	c.device = device

	sessCfg := realtime.SessionConfig{
		Voice:            c.cfg.Session.Voice,
		Instructions:     c.cfg.Session.Instructions,
		InputSampleRate:  c.cfg.Session.InputSampleRate,
		OutputSampleRate: c.cfg.Session.OutputSampleRate,
	}
	c.mu.Unlock()

	// The dial blocks on network I/O; never hold the lock across it.
	session, err := c.provider.Connect(ctx, sessCfg)
	if err != nil {
		c.teardown(fmt.Sprintf("connection failed: %v", err))
		return fmt.Errorf("app: connect: %w", err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Torn down while dialling (user stop or device failure race).
		c.mu.Unlock()
		_ = session.Close()
		return fmt.Errorf("app: session torn down during connect")
	}
	c.session = session
	c.connectedAt = time.Now()
	c.setStateLocked(StateConnected, "")
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session connected",
		"provider", c.cfg.Provider.Name,
		"voice", c.cfg.Session.Voice,
	)

	go c.eventLoop(session)
	return nil
}

// Stop tears the session down to the disconnected baseline. Safe to call in
// any state; repeated calls are no-ops.
func (c *Controller) Stop() {
	c.teardown("")
}

// eventLoop pumps the session's server events into the playback scheduler
// until the channel closes, then resolves whether the session ended cleanly.
func (c *Controller) eventLoop(session realtime.Session) {
	for ev := range session.Events() {
		switch ev.Type {
		case realtime.EventAudio:
			c.metrics.ChunksReceived.Add(context.Background(), 1)
			c.mu.Lock()
			sched := c.sched
			current := c.session == session
			c.mu.Unlock()
			if !current || sched == nil {
				return
			}
			if _, err := sched.Schedule(ev.Audio); err != nil {
				slog.Warn("dropping audio chunk", "err", err)
				continue
			}
			dur := audio.PCM16Duration(len(ev.Audio), c.cfg.Session.OutputSampleRate, 1)
			c.metrics.ScheduledAudio.Record(context.Background(), dur.Seconds())

		case realtime.EventInterrupted:
			c.metrics.Interruptions.Add(context.Background(), 1)
			c.mu.Lock()
			sched := c.sched
			current := c.session == session
			c.mu.Unlock()
			if !current || sched == nil {
				return
			}
			if err := sched.Interrupt(); err != nil {
				slog.Warn("interrupt playback", "err", err)
			}

		case realtime.EventTranscript:
			slog.Debug("transcript", "role", ev.Role, "text", ev.Text)
		}
	}

	// Channel closed. Only the loop for the live session resolves teardown;
	// a session closed by Stop has already been detached.
	c.mu.Lock()
	current := c.session == session
	c.mu.Unlock()
	if !current {
		return
	}

	if err := session.Err(); err != nil {
		c.metrics.SessionErrors.Add(context.Background(), 1)
		slog.Error("session terminated", "err", err)
		c.teardown(fmt.Sprintf("connection error: %v", err))
		return
	}
	slog.Info("session closed by server")
	c.teardown("")
}

// teardown releases every session resource and settles the state machine:
// StateError with a message, StateDisconnected otherwise. Idempotent — a
// second call finds nothing to release and, when no new message is supplied,
// changes nothing.
func (c *Controller) teardown(errMsg string) {
	c.mu.Lock()
	session := c.session
	device := c.device
	sched := c.sched
	mtr := c.meter
	connectedAt := c.connectedAt
	c.session = nil
	c.device = nil
	c.sched = nil
	c.meter = nil
	c.pipeline = nil
	c.connectedAt = time.Time{}

	hadResources := session != nil || device != nil || sched != nil || mtr != nil
	switch {
	case errMsg != "":
		c.setStateLocked(StateError, errMsg)
	case c.state != StateDisconnected && c.state != StateError:
		c.setStateLocked(StateDisconnected, "")
	}
	c.mu.Unlock()

	if !hadResources {
		return
	}

	// Hard stop: capture first so nothing new is sent, then the channel,
	// then playback without draining.
	if device != nil {
		device.Stop()
	}
	if session != nil {
		_ = session.Close()
	}
	if sched != nil {
		_ = sched.Close()
	}
	if mtr != nil {
		mtr.Stop()
	}

	if session != nil {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
		if !connectedAt.IsZero() {
			c.metrics.SessionDuration.Record(context.Background(), time.Since(connectedAt).Seconds())
		}
	}
	slog.Info("session torn down", "error", errMsg != "")
}

// failLocked enters the error state with a user-visible message. Caller must
// hold c.mu and must not have allocated resources yet.
func (c *Controller) failLocked(msg string) {
	c.setStateLocked(StateError, msg)
}

// setStateLocked updates the state and fires the state callback outside the
// lock. Caller must hold c.mu.
func (c *Controller) setStateLocked(s State, errMsg string) {
	c.state = s
	c.errMsg = errMsg
	cb := c.onState
	if cb != nil {
		go cb(s, errMsg)
	}
}
