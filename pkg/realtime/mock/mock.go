// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions.
// Use Session to drive the event stream and inspect which methods were
// invoked by the lifecycle controller.
//
// Example:
//
//	sess := &mock.Session{EventsCh: make(chan realtime.Event, 8)}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/voxterm/voxterm/pkg/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new default Session with a buffered event channel.
	Session realtime.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// VoiceList is returned by Voices.
	VoiceList []string

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{EventsCh: make(chan realtime.Event, 64)}, nil
}

// Voices returns VoiceList.
func (p *Provider) Voices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.VoiceList
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of realtime.Session.
// Callers should pre-populate EventsCh, then close it to signal
// end-of-session.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this channel.
	EventsCh chan realtime.Event

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// ErrVal is returned by Err.
	ErrVal error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close increments CloseCallCount. The first call returns CloseErr;
// subsequent calls return nil, matching the idempotency contract.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	return s.CloseErr
}

// CloseCount returns the number of Close calls recorded so far. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Sent returns a snapshot copy of all SendAudio chunks recorded so far.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	for i, c := range s.SendAudioCalls {
		out[i] = c.Chunk
	}
	return out
}

// Ensure Session implements realtime.Session at compile time.
var _ realtime.Session = (*Session)(nil)
