// Package playback schedules decoded audio chunks for gapless sequential
// output.
//
// The central piece is the [Scheduler]: each inbound chunk is anchored at
// max(cursor, now) on a monotonic stream clock, and the cursor advances by the
// chunk's duration. Anchoring to the running cursor rather than arrival time
// keeps consecutive chunks seamless even when they arrive faster than real
// time. A chunk stays in the active set until its scheduled end; the set being
// non-empty is the sole definition of "speaking". An interruption (barge-in)
// stops everything at once: the active set is cleared, queued output is
// dropped, and the cursor resets to zero.
//
// This package is internal because it encapsulates application-private audio
// pipeline logic and is not intended for import by external code.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/voxterm/voxterm/pkg/audio"
)

// Clock reports the elapsed time on the playback stream's own timeline.
// The zero point is the moment the stream was created. Implementations must
// be monotonic.
type Clock interface {
	Now() time.Duration
}

// monotonicClock measures elapsed wall-clock time from a fixed start.
type monotonicClock struct {
	start time.Time
}

// NewClock returns a Clock anchored at the moment of the call.
func NewClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// Sink is the audio output a Scheduler feeds. Write enqueues PCM for
// playback in arrival order; Reset drops everything queued or in flight
// immediately.
type Sink interface {
	Write(pcm []byte) error
	Reset() error
	Close() error
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the stream clock. Used in tests to make scheduling
// deterministic.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// Scheduler places PCM chunks back-to-back on a single output stream and
// tracks whether anything is currently audible.
//
// Scheduler is safe for concurrent use. The speaking callback is invoked
// without internal locks held, on whichever goroutine triggered the
// transition.
type Scheduler struct {
	sink       Sink
	clock      Clock
	sampleRate int
	channels   int

	mu       sync.Mutex
	cursor   time.Duration
	nodes    map[int]*time.Timer
	nextID   int
	speaking bool
	onChange func(bool)
	closed   bool
}

// NewScheduler creates a Scheduler writing to sink. PCM handed to
// [Scheduler.Schedule] must be s16le at the given sample rate and channel
// count.
func NewScheduler(sink Sink, sampleRate, channels int, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:       sink,
		clock:      NewClock(),
		sampleRate: sampleRate,
		channels:   channels,
		nodes:      make(map[int]*time.Timer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnSpeakingChange registers cb to be invoked whenever the speaking state
// flips. Only one callback may be registered at a time; subsequent calls
// replace the previous registration. Passing nil clears the callback.
func (s *Scheduler) OnSpeakingChange(cb func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = cb
}

// Schedule enqueues pcm for playback immediately after whatever is already
// scheduled, and returns the chunk's computed start offset on the stream
// clock. Empty chunks are ignored and return the current cursor.
func (s *Scheduler) Schedule(pcm []byte) (time.Duration, error) {
	dur := audio.PCM16Duration(len(pcm), s.sampleRate, s.channels)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("playback: scheduler closed")
	}
	if dur == 0 {
		cursor := s.cursor
		s.mu.Unlock()
		return cursor, nil
	}

	now := s.clock.Now()
	start := s.cursor
	if now > start {
		start = now
	}
	s.cursor = start + dur

	id := s.nextID
	s.nextID++

	// The node leaves the active set exactly once: here at its scheduled end,
	// or in Interrupt when the timer is stopped first.
	s.nodes[id] = time.AfterFunc(s.cursor-now, func() { s.finish(id) })

	turnedOn := !s.speaking
	s.speaking = true
	cb := s.onChange
	s.mu.Unlock()

	// The node is already in the active set, so report the speaking flip
	// before attempting the write: if the write fails the node's finish
	// still delivers the matching off transition.
	if turnedOn && cb != nil {
		cb(true)
	}

	if err := s.sink.Write(pcm); err != nil {
		return start, fmt.Errorf("playback: write sink: %w", err)
	}
	return start, nil
}

// finish removes a naturally-ended node from the active set and clears the
// speaking flag when the set empties.
func (s *Scheduler) finish(id int) {
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.nodes, id)

	var cb func(bool)
	if len(s.nodes) == 0 && s.speaking {
		s.speaking = false
		cb = s.onChange
	}
	s.mu.Unlock()

	if cb != nil {
		cb(false)
	}
}

// Interrupt stops every active node immediately, drops queued sink output,
// and resets the cursor to zero. Playback does not drain; this is the
// barge-in path. Safe to call with an empty active set.
func (s *Scheduler) Interrupt() error {
	s.mu.Lock()
	for id, timer := range s.nodes {
		timer.Stop()
		delete(s.nodes, id)
	}
	s.cursor = 0

	var cb func(bool)
	if s.speaking {
		s.speaking = false
		cb = s.onChange
	}
	closed := s.closed
	s.mu.Unlock()

	if cb != nil {
		cb(false)
	}
	if closed {
		return nil
	}
	if err := s.sink.Reset(); err != nil {
		return fmt.Errorf("playback: reset sink: %w", err)
	}
	return nil
}

// Speaking reports whether any scheduled chunk has not yet reached its end.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Cursor returns the stream-clock offset at which the next chunk would start
// if it arrived with playback still pending.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active returns the number of chunks in the active set.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Close interrupts all playback and releases the sink. Subsequent calls are
// no-ops and return nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.Interrupt()
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("playback: close sink: %w", err)
	}
	return nil
}
