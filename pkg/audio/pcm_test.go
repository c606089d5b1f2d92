package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/voxterm/voxterm/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloat32ToPCM16(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1.0, -1.0}
	got := bytesToSamples(audio.Float32ToPCM16(in))
	want := []int16{0, 16383, -16383, 32767, -32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM16_Clamping(t *testing.T) {
	// Over-range input must saturate, never wrap.
	in := []float32{1.5, -1.5, 100, -100}
	got := bytesToSamples(audio.Float32ToPCM16(in))
	want := []int16{32767, -32768, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_RoundTrip(t *testing.T) {
	in := []int16{0, 1000, -1000, 32767, -32768}
	samples := audio.PCM16ToFloat32(samplesToBytes(in))
	got := bytesToSamples(audio.Float32ToPCM16(samples))
	for i := range in {
		diff := int(got[i]) - int(in[i])
		if diff < -1 || diff > 1 {
			t.Errorf("sample %d: got %d, want %d (±1)", i, got[i], in[i])
		}
	}
}

func TestPCM16Duration(t *testing.T) {
	tests := []struct {
		name       string
		numBytes   int
		sampleRate int
		channels   int
		want       time.Duration
	}{
		{"one second mono 24k", 48000, 24000, 1, time.Second},
		{"half second mono 24k", 24000, 24000, 1, 500 * time.Millisecond},
		{"20ms mono 16k", 640, 16000, 1, 20 * time.Millisecond},
		{"one second stereo 24k", 96000, 24000, 2, time.Second},
		{"zero rate", 48000, 0, 1, 0},
		{"empty", 0, 24000, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.PCM16Duration(tt.numBytes, tt.sampleRate, tt.channels); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("empty buffer: got %v, want 0", got)
	}

	silence := samplesToBytes(make([]int16, 160))
	if got := audio.RMS(silence); got != 0 {
		t.Errorf("silence: got %v, want 0", got)
	}

	// Full-scale square wave has RMS ~1.0.
	square := make([]int16, 160)
	for i := range square {
		if i%2 == 0 {
			square[i] = 32767
		} else {
			square[i] = -32768
		}
	}
	got := audio.RMS(samplesToBytes(square))
	if math.Abs(got-1.0) > 0.01 {
		t.Errorf("square wave: got %v, want ~1.0", got)
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	in := samplesToBytes(make([]int16, 160)) // 10ms at 16kHz
	out := audio.ResampleMono16(in, 16000, 24000)
	if len(out) != 240*2 {
		t.Errorf("got %d bytes, want %d", len(out), 240*2)
	}
}
