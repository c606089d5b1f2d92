// Package capture acquires microphone audio and forwards it to a realtime
// session as fixed-size s16le PCM blocks.
//
// The package is split in two: [Pipeline] is the pure forwarding step
// (float32 → clamped s16le, rate conversion, mute gate, level fan-out) and
// [Device] is the
// malgo capture device that feeds it. Muting never pauses the device; it only
// drops blocks at the forwarding step, so unmuting resumes on the very next
// captured block with nothing replayed.
package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/voxterm/voxterm/pkg/audio"
)

// blockMillis is the capture period length. 20ms blocks keep the realtime
// channel fed without flooding it.
const blockMillis = 20

// SendFunc delivers one encoded PCM block to the realtime channel.
// Blocks are fire-and-forget; errors are logged, never retried.
type SendFunc func(chunk []byte) error

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithDropHook registers fn to be called for every block dropped because the
// mute flag was set. Used for metrics.
func WithDropHook(fn func()) Option {
	return func(p *Pipeline) { p.onDrop = fn }
}

// WithTargetRate sets the sample rate blocks are delivered at. When the
// device reports capturing at a different rate (see [Pipeline.SetSourceRate])
// blocks are resampled before forwarding. Zero disables resampling.
func WithTargetRate(rate int) Option {
	return func(p *Pipeline) { p.dstRate = rate }
}

// Pipeline converts captured sample blocks and forwards them unless muted.
//
// The mute flag is an atomic read on every block, not a value captured at
// setup time, so toggling it takes effect on the block currently in flight
// through the device callback.
type Pipeline struct {
	send    SendFunc
	onLevel func(float64)
	onDrop  func()
	muted   atomic.Bool

	// srcRate and dstRate drive resampling when the device cannot capture at
	// the requested rate. srcRate is set once, before blocks start flowing.
	srcRate int
	dstRate int

	warnedSend sync.Once
}

// NewPipeline creates a Pipeline forwarding blocks via send. onLevel, if
// non-nil, receives the RMS level of every captured block (muted or not) for
// the intensity meter.
func NewPipeline(send SendFunc, onLevel func(float64), opts ...Option) *Pipeline {
	p := &Pipeline{send: send, onLevel: onLevel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetSourceRate records the rate the device actually captures at. It must be
// called before the device starts delivering blocks; [NewDevice] does this
// after opening the device, which may not honour the requested rate.
func (p *Pipeline) SetSourceRate(rate int) { p.srcRate = rate }

// SetMuted sets the mute flag. Muted blocks are dropped, not buffered.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports the current mute flag.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Push converts one block of float32 samples to s16le PCM (clamping
// out-of-range values) and forwards it unless the mute flag is set.
func (p *Pipeline) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}

	pcm := audio.Float32ToPCM16(samples)
	if p.srcRate > 0 && p.dstRate > 0 && p.srcRate != p.dstRate {
		pcm = audio.ResampleMono16(pcm, p.srcRate, p.dstRate)
	}

	if p.onLevel != nil {
		p.onLevel(audio.RMS(pcm))
	}

	if p.muted.Load() {
		if p.onDrop != nil {
			p.onDrop()
		}
		return
	}

	if err := p.send(pcm); err != nil {
		p.warnedSend.Do(func() {
			slog.Warn("capture: dropping block, send failed", "err", err)
		})
	}
}

// Device is a malgo-backed microphone capture stream feeding a [Pipeline].
type Device struct {
	pipeline *Pipeline

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	stopOnce sync.Once
}

// NewDevice opens the default capture device as mono float32 at sampleRate
// and starts delivering blocks to pipeline. It returns an error when no
// capture device is available or access is denied.
func NewDevice(sampleRate int, pipeline *Pipeline) (*Device, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}

	d := &Device{pipeline: pipeline, malgoCtx: malgoCtx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = blockMillis

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			d.pipeline.Push(decodeF32(input))
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("capture: open capture device: %w", err)
	}
	d.device = device

	// The backend may have opened the device at a rate it supports rather
	// than the one we asked for; tell the pipeline so it can resample.
	pipeline.SetSourceRate(int(device.SampleRate()))

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("capture: start capture device: %w", err)
	}

	return d, nil
}

// Stop halts capture and releases the device. Subsequent calls are no-ops.
func (d *Device) Stop() {
	d.stopOnce.Do(func() {
		d.device.Uninit()
		_ = d.malgoCtx.Uninit()
		d.malgoCtx.Free()
	})
}

// decodeF32 reinterprets little-endian float32 device bytes as samples.
// A trailing partial sample is ignored.
func decodeF32(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := range n {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}
