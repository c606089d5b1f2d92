// Package audio provides PCM sample conversion, duration math, resampling,
// and level measurement for the voxterm capture and playback paths.
//
// All PCM byte slices in this package are 16-bit signed little-endian samples
// unless stated otherwise.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Float32ToPCM16 converts normalised float32 samples in [-1.0, 1.0] to 16-bit
// signed little-endian PCM. Samples outside the unit range are clamped before
// truncation so out-of-range input saturates instead of wrapping around.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. Any trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// PCM16Duration returns the play time of a 16-bit PCM buffer at the given
// sample rate and channel count. It returns 0 for non-positive rates or
// channel counts.
func PCM16Duration(numBytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := numBytes / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// RMS computes the root-mean-square level of a 16-bit mono PCM buffer,
// normalised to [0, 1]. An empty buffer yields 0.
func RMS(pcm []byte) float64 {
	samples := PCM16ToFloat32(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
