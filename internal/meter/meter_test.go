package meter_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxterm/voxterm/internal/meter"
)

const tick = time.Millisecond

// waitFor polls cond until it reports true or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(tick)
	}
}

func TestIntensity_RisesTowardLevel(t *testing.T) {
	t.Parallel()

	m := meter.New(nil, meter.WithInterval(tick))
	t.Cleanup(m.Stop)

	if got := m.Intensity(); got != 0 {
		t.Fatalf("initial intensity: got %v, want 0", got)
	}

	m.Push(0.5)
	waitFor(t, "intensity to rise", func() bool { return m.Intensity() > 0.5 })
}

func TestIntensity_ClampedToUnitRange(t *testing.T) {
	t.Parallel()

	m := meter.New(nil, meter.WithInterval(tick))
	t.Cleanup(m.Stop)

	m.Push(100) // absurd level; output must stay normalised
	waitFor(t, "intensity to settle", func() bool { return m.Intensity() > 0.9 })

	if got := m.Intensity(); got > 1.0 {
		t.Errorf("intensity: got %v, want <= 1.0", got)
	}
}

func TestIntensity_DecaysAfterSilence(t *testing.T) {
	t.Parallel()

	m := meter.New(nil, meter.WithInterval(tick))
	t.Cleanup(m.Stop)

	m.Push(0.5)
	waitFor(t, "intensity to rise", func() bool { return m.Intensity() > 0.5 })

	m.Push(0)
	waitFor(t, "intensity to decay", func() bool { return m.Intensity() < 0.05 })
}

func TestStop_HaltsUpdates(t *testing.T) {
	t.Parallel()

	var updates atomic.Int64
	m := meter.New(func(float64) { updates.Add(1) }, meter.WithInterval(tick))

	waitFor(t, "first update", func() bool { return updates.Load() > 0 })

	m.Stop()
	m.Stop() // idempotent

	// Allow an in-flight tick to land before sampling the count.
	time.Sleep(10 * tick)
	after := updates.Load()
	time.Sleep(20 * tick)
	if got := updates.Load(); got != after {
		t.Errorf("updates after Stop: got %d more", got-after)
	}
}
