package protection

import (
	"testing"

	"github.com/fieldlens/reidcore/internal/model"
)

func newTestEngine() *Engine {
	return New(model.Defaults().WithDefaults())
}

func TestZoneAt_HardWithin50Frames(t *testing.T) {
	e := newTestEngine()
	e.OpenWindow(1, "p1", 1000)

	zone, mult, player := e.ZoneAt(1, 1030)
	if zone != model.ZoneHard {
		t.Fatalf("expected Hard zone, got %s", zone)
	}
	if mult != 0 {
		t.Fatalf("expected zero multiplier in Hard zone, got %v", mult)
	}
	if player != "p1" {
		t.Fatalf("expected p1, got %s", player)
	}
}

func TestZoneAt_HardIsSymmetricAroundAnchor(t *testing.T) {
	// Spec §8 scenario 1: anchor at frame 100 protects frames 50-150 Hard.
	e := newTestEngine()
	e.OpenWindow(1, "p1", 100)

	zone, _, player := e.ZoneAt(1, 50)
	if zone != model.ZoneHard {
		t.Fatalf("expected Hard zone before the anchor frame, got %s", zone)
	}
	if player != "p1" {
		t.Fatalf("expected p1, got %s", player)
	}

	zone, _, _ = e.ZoneAt(1, 49)
	if zone != model.ZoneSoft {
		t.Fatalf("expected Soft zone just outside the backward Hard boundary, got %s", zone)
	}
}

func TestZoneAt_SyntheticWindowDoesNotProtectBackward(t *testing.T) {
	e := newTestEngine()
	for f := uint64(0); f < AutoProtectMinStreak; f++ {
		e.NoteAssignment(1, "p1", 0.9, f)
	}
	armedAt := uint64(AutoProtectMinStreak - 1)

	zone, _, _ := e.ZoneAt(1, armedAt-1)
	if zone != model.ZoneNone {
		t.Fatalf("expected no protection before a synthetic window's anchor frame, got %s", zone)
	}
}

func TestZoneAt_SoftRequires3xMultiplier(t *testing.T) {
	e := newTestEngine()
	e.OpenWindow(1, "p1", 1000)

	zone, mult, _ := e.ZoneAt(1, 1060)
	if zone != model.ZoneSoft {
		t.Fatalf("expected Soft zone, got %s", zone)
	}
	if mult != 3.0 {
		t.Fatalf("expected 3x multiplier at Soft start, got %v", mult)
	}
}

func TestZoneAt_DecayMultiplierFallsLinearly(t *testing.T) {
	e := newTestEngine()
	e.OpenWindow(1, "p1", 1000)

	_, multStart, _ := e.ZoneAt(1, 1101) // just past SoftEnd=1100
	_, multEnd, _ := e.ZoneAt(1, 1150)   // DecayEnd
	if multStart <= multEnd {
		t.Fatalf("expected decay multiplier to fall, start=%v end=%v", multStart, multEnd)
	}
	if multEnd != 1.0 {
		t.Fatalf("expected multiplier to reach 1.0 at decay end, got %v", multEnd)
	}
}

func TestZoneAt_NoneBeyondDecayWindow(t *testing.T) {
	e := newTestEngine()
	e.OpenWindow(1, "p1", 1000)

	zone, _, player := e.ZoneAt(1, 1200)
	if zone != model.ZoneNone {
		t.Fatalf("expected None zone beyond decay window, got %s", zone)
	}
	if player != "" {
		t.Fatalf("expected no protected player beyond window, got %s", player)
	}
}

func TestZoneAt_UnknownTrackIsNone(t *testing.T) {
	e := newTestEngine()
	zone, _, _ := e.ZoneAt(999, 10)
	if zone != model.ZoneNone {
		t.Fatalf("expected None for unknown track, got %s", zone)
	}
}

func TestNoteAssignment_AutoProtectionArmsAfterStreak(t *testing.T) {
	e := newTestEngine()
	for f := uint64(0); f < AutoProtectMinStreak; f++ {
		e.NoteAssignment(1, "p1", 0.9, f)
	}

	zone, _, player := e.ZoneAt(1, AutoProtectMinStreak-1)
	if zone == model.ZoneNone {
		t.Fatalf("expected auto-protection to have armed by frame %d", AutoProtectMinStreak-1)
	}
	if player != "p1" {
		t.Fatalf("expected p1 to be auto-protected, got %s", player)
	}
}

func TestNoteAssignment_LowSimilarityResetsStreak(t *testing.T) {
	e := newTestEngine()
	for f := uint64(0); f < AutoProtectMinStreak-1; f++ {
		e.NoteAssignment(1, "p1", 0.9, f)
	}
	e.NoteAssignment(1, "p1", 0.5, AutoProtectMinStreak-1) // breaks the streak

	zone, _, _ := e.ZoneAt(1, AutoProtectMinStreak-1)
	if zone != model.ZoneNone {
		t.Fatalf("expected streak reset to prevent auto-protection, got zone %s", zone)
	}
}

func TestNoteTrackDead_ClearsProtection(t *testing.T) {
	e := newTestEngine()
	e.OpenWindow(1, "p1", 1000)
	e.NoteTrackDead(1)

	zone, _, _ := e.ZoneAt(1, 1010)
	if zone != model.ZoneNone {
		t.Fatalf("expected protection cleared after track death, got %s", zone)
	}
}

func TestZoneAt_HardOverridesOlderSoftWindow(t *testing.T) {
	e := newTestEngine()
	e.OpenWindow(1, "p1", 1000) // Soft/Decay by frame 1090
	e.OpenWindow(1, "p2", 1080) // fresh Hard window opens at 1080

	zone, _, player := e.ZoneAt(1, 1090)
	if zone != model.ZoneHard {
		t.Fatalf("expected newer Hard window to win, got %s", zone)
	}
	if player != "p2" {
		t.Fatalf("expected p2 to be protected, got %s", player)
	}
}
