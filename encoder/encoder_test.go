package encoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackEventBootstrapsOnFirstEvent(t *testing.T) {
	tr := NewTracker()
	accel := tr.TrackEvent("vpot1", 1)
	assert.GreaterOrEqual(t, accel, 1.0)
	assert.LessOrEqual(t, accel, maxMultiplier)
}

func TestTrackEventAccelerationBounds(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 50; i++ {
		accel := tr.TrackEvent("vpot1", 1)
		assert.GreaterOrEqual(t, accel, directionFlipDampen*1)
		assert.LessOrEqual(t, accel, maxMultiplier)
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTrackEventFastSpinAccelerates(t *testing.T) {
	tr := NewTracker()
	var last float64
	for i := 0; i < 30; i++ {
		last = tr.TrackEvent("vpot1", 1)
		time.Sleep(20 * time.Millisecond)
	}
	assert.Greater(t, last, 3.0, "fast sustained spin should accelerate above 3x")
}

func TestTrackEventSlowSpinDoesNotAccelerate(t *testing.T) {
	tr := NewTracker()
	var last float64
	for i := 0; i < 5; i++ {
		last = tr.TrackEvent("vpot1", 1)
		time.Sleep(200 * time.Millisecond)
	}
	assert.Less(t, last, 1.5, "slow spin should stay near baseline")
}

func TestTrackEventDirectionFlipDampens(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 10; i++ {
		tr.TrackEvent("vpot1", 1)
		time.Sleep(15 * time.Millisecond)
	}
	fastAccel := tr.TrackEvent("vpot1", 1)
	time.Sleep(15 * time.Millisecond)
	flipped := tr.TrackEvent("vpot1", -1)
	assert.Less(t, flipped, fastAccel, "reversing direction should dampen acceleration")
}

func TestTrackEventIdleResetsToBaseline(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 20; i++ {
		tr.TrackEvent("vpot1", 1)
		time.Sleep(15 * time.Millisecond)
	}
	time.Sleep(800 * time.Millisecond)
	accel := tr.TrackEvent("vpot1", 1)
	assert.InDelta(t, 1.0, accel, 0.25)
}

func TestTrackEventZeroDeltaDoesNotAdvanceTimestamp(t *testing.T) {
	tr := NewTracker()
	before := tr.TrackEvent("vpot1", 1)
	tsBefore := tr.state["vpot1"].lastTs
	time.Sleep(10 * time.Millisecond)
	// A zero-delta "event" (e.g. a spurious tick) must not perturb state.
	after := tr.TrackEvent("vpot1", 0)
	assert.Equal(t, 1.0, after, "zero delta carries no direction, accel computed from frozen ema")
	assert.Equal(t, tsBefore, tr.state["vpot1"].lastTs, "zero delta must not advance the last timestamp")
	_ = before
}

func TestTrackEventIndependentPerEncoder(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 20; i++ {
		tr.TrackEvent("vpot1", 1)
		time.Sleep(15 * time.Millisecond)
	}
	fresh := tr.TrackEvent("vpot2", 1)
	assert.InDelta(t, 1.0, fresh, 0.1, "a different encoder id must not inherit another's velocity")
}
