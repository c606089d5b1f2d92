// Package meter derives a presentational microphone intensity value from
// capture levels.
//
// The meter runs its own cooperative update loop at a frame-like cadence,
// independent of the audio callbacks that feed it, and must be stopped
// explicitly on teardown. The output is a normalised [0, 1] value with
// exponential smoothing so the UI glow rises and falls instead of flickering.
package meter

import (
	"sync"
	"time"
)

const (
	// defaultInterval approximates an animation frame.
	defaultInterval = 33 * time.Millisecond

	// gain maps typical speech RMS (well under full scale) onto the visible
	// range before clamping.
	gain = 4.0

	// smoothing is the per-tick exponential factor pulling the displayed
	// intensity toward the latest level.
	smoothing = 0.35
)

// Option is a functional option for configuring a Meter.
type Option func(*Meter)

// WithInterval overrides the update cadence. Used in tests to keep suites fast.
func WithInterval(d time.Duration) Option {
	return func(m *Meter) { m.interval = d }
}

// Meter smooths raw capture levels into a displayable intensity.
// All methods are safe for concurrent use.
type Meter struct {
	interval time.Duration
	onUpdate func(float64)

	mu        sync.Mutex
	latest    float64
	intensity float64

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Meter and starts its update loop. onUpdate, if non-nil, is
// invoked with the smoothed intensity on every tick until Stop is called.
func New(onUpdate func(float64), opts ...Option) *Meter {
	m := &Meter{
		interval: defaultInterval,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	go m.loop()
	return m
}

// Push records the most recent capture level (typically an RMS in [0, 1]).
// Called from the audio callback; it never blocks.
func (m *Meter) Push(level float64) {
	m.mu.Lock()
	m.latest = level
	m.mu.Unlock()
}

// Intensity returns the current smoothed intensity in [0, 1].
func (m *Meter) Intensity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intensity
}

// Stop cancels the update loop. Subsequent calls are no-ops.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Meter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			v := m.step()
			if m.onUpdate != nil {
				m.onUpdate(v)
			}
		}
	}
}

// step advances the smoothed intensity one tick toward the latest level.
func (m *Meter) step() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.latest * gain
	if target > 1 {
		target = 1
	}
	m.intensity += smoothing * (target - m.intensity)
	return m.intensity
}
