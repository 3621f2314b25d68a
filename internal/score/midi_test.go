package score

import (
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"
)

func TestTicksToMs(t *testing.T) {
	// 480 ppq, 500000 microseconds per beat (120 BPM): one full beat
	// (480 ticks) should take exactly 500ms.
	got := ticksToMs(480, 480, 500000)
	if got != 500 {
		t.Errorf("ticksToMs(480,480,500000) = %v, want 500", got)
	}

	if got := ticksToMs(0, 480, 500000); got != 0 {
		t.Errorf("ticksToMs(0,...) = %v, want 0", got)
	}
}

func TestFirstTempoMissingIsFormatError(t *testing.T) {
	var empty smf.Track
	if _, err := firstTempo(empty); err == nil {
		t.Error("expected an error when no tempo meta event is present")
	}
}
