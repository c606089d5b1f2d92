package capture_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/voxterm/voxterm/internal/capture"
)

// collectSend returns a SendFunc that appends every chunk to dst.
func collectSend(dst *[][]byte) capture.SendFunc {
	return func(chunk []byte) error {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		*dst = append(*dst, cp)
		return nil
	}
}

func TestPush_ForwardsConvertedBlock(t *testing.T) {
	t.Parallel()

	var sent [][]byte
	p := capture.NewPipeline(collectSend(&sent), nil)

	p.Push([]float32{0, 0.5, -1.0})

	if len(sent) != 1 {
		t.Fatalf("sent blocks: got %d, want 1", len(sent))
	}
	got := make([]int16, 3)
	for i := range got {
		got[i] = int16(binary.LittleEndian.Uint16(sent[0][i*2:]))
	}
	want := []int16{0, 16383, -32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPush_ClampsOutOfRangeSamples(t *testing.T) {
	t.Parallel()

	var sent [][]byte
	p := capture.NewPipeline(collectSend(&sent), nil)

	p.Push([]float32{2.0, -2.0})

	if len(sent) != 1 {
		t.Fatalf("sent blocks: got %d, want 1", len(sent))
	}
	hi := int16(binary.LittleEndian.Uint16(sent[0][0:]))
	lo := int16(binary.LittleEndian.Uint16(sent[0][2:]))
	if hi != 32767 || lo != -32768 {
		t.Errorf("clamped samples: got %d/%d, want 32767/-32768", hi, lo)
	}
}

func TestPush_MuteDropsExactlyMutedBlocks(t *testing.T) {
	t.Parallel()

	var sent [][]byte
	p := capture.NewPipeline(collectSend(&sent), nil)

	blockA := []float32{0.1}
	blockB := []float32{0.2}
	blockC := []float32{0.3}

	p.Push(blockA)
	p.SetMuted(true)
	p.Push(blockB) // dropped, never replayed
	p.SetMuted(false)
	p.Push(blockC)

	if len(sent) != 2 {
		t.Fatalf("sent blocks: got %d, want 2", len(sent))
	}
	// Block B must not appear between A and C.
	a := int16(binary.LittleEndian.Uint16(sent[0]))
	c := int16(binary.LittleEndian.Uint16(sent[1]))
	if want := int16(blockA[0] * 32767); a != want {
		t.Errorf("first forwarded block: got sample %d, want block A (%d)", a, want)
	}
	if want := int16(blockC[0] * 32767); c != want {
		t.Errorf("second forwarded block: got sample %d, want block C (%d)", c, want)
	}
}

func TestPush_ResamplesWhenDeviceRateDiffers(t *testing.T) {
	t.Parallel()

	var sent [][]byte
	p := capture.NewPipeline(collectSend(&sent), nil, capture.WithTargetRate(16000))
	p.SetSourceRate(48000)

	// 1ms of audio at 48kHz must come out as 1ms at 16kHz.
	p.Push(make([]float32, 48))

	if len(sent) != 1 {
		t.Fatalf("sent blocks: got %d, want 1", len(sent))
	}
	if got := len(sent[0]) / 2; got != 16 {
		t.Errorf("forwarded samples: got %d, want 16", got)
	}
}

func TestPush_MatchingRatesPassThrough(t *testing.T) {
	t.Parallel()

	var sent [][]byte
	p := capture.NewPipeline(collectSend(&sent), nil, capture.WithTargetRate(16000))
	p.SetSourceRate(16000)

	p.Push(make([]float32, 32))

	if len(sent) != 1 {
		t.Fatalf("sent blocks: got %d, want 1", len(sent))
	}
	if got := len(sent[0]) / 2; got != 32 {
		t.Errorf("forwarded samples: got %d, want 32", got)
	}
}

func TestPush_LevelReportedWhileMuted(t *testing.T) {
	t.Parallel()

	var levels []float64
	var sent [][]byte
	p := capture.NewPipeline(collectSend(&sent), func(l float64) { levels = append(levels, l) })

	p.SetMuted(true)
	p.Push([]float32{0.5, -0.5})

	if len(sent) != 0 {
		t.Fatalf("sent blocks while muted: got %d, want 0", len(sent))
	}
	if len(levels) != 1 {
		t.Fatalf("level samples: got %d, want 1", len(levels))
	}
	if levels[0] <= 0 {
		t.Errorf("level: got %v, want > 0", levels[0])
	}
}

func TestPush_EmptyBlockIgnored(t *testing.T) {
	t.Parallel()

	var sent [][]byte
	var levels []float64
	p := capture.NewPipeline(collectSend(&sent), func(l float64) { levels = append(levels, l) })

	p.Push(nil)

	if len(sent) != 0 || len(levels) != 0 {
		t.Errorf("empty block produced output: sent=%d levels=%d", len(sent), len(levels))
	}
}

func TestPush_SendErrorDoesNotPanic(t *testing.T) {
	t.Parallel()

	p := capture.NewPipeline(func([]byte) error { return errors.New("channel closed") }, nil)

	// Fire-and-forget: a failing send drops the block silently.
	p.Push([]float32{0.1})
	p.Push([]float32{0.2})
}
