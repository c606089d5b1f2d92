package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Compile-time assertion that the device sink satisfies Sink.
var _ Sink = (*DeviceSink)(nil)

// deviceBufferSize is the output device buffer depth. Small enough that an
// interruption cuts audible output quickly, large enough to ride out
// scheduling jitter.
const deviceBufferSize = 100 * time.Millisecond

// DeviceSink plays s16le PCM through the default output device via oto.
// The player pulls from an internal buffer that yields silence when empty,
// so the device stream never starves between responses.
type DeviceSink struct {
	otoCtx *oto.Context
	player *oto.Player

	mu     sync.Mutex
	buf    []byte
	closed bool
}

// NewDeviceSink opens the default output device at the given sample rate and
// channel count and starts the playback stream.
func NewDeviceSink(sampleRate, channels int) (*DeviceSink, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   deviceBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	<-ready

	s := &DeviceSink{otoCtx: otoCtx}
	s.player = otoCtx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

// Read feeds the oto player. It drains the pending buffer and pads the
// remainder with silence so the device keeps running.
func (s *DeviceSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.mu.Unlock()

	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

// Write enqueues pcm for playback after everything previously written.
func (s *DeviceSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("playback: sink closed")
	}
	s.buf = append(s.buf, pcm...)
	return nil
}

// Reset drops all pending audio. Anything already handed to the device
// (at most deviceBufferSize worth) still plays out.
func (s *DeviceSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	return nil
}

// Close stops the player and releases the device. Idempotent.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	s.mu.Unlock()

	if err := s.player.Close(); err != nil {
		return fmt.Errorf("playback: close player: %w", err)
	}
	return nil
}
