package anchors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fieldlens/reidcore/internal/model"
)

func writeAnchorFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write anchor file: %v", err)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	writeAnchorFile(t, dir, "anchors.json", `{
		"10": [{"player_name": "alice", "bbox": [0,0,50,100], "confidence": 1.0}],
		"20": [{"player_name": "bob", "bbox": [10,10,60,110], "confidence": 1.0, "jersey_number": "7"}]
	}`)

	store, err := Load("video1", dir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	frame10 := store.AnchorsForFrame(10)
	if len(frame10) != 1 || frame10[0].PlayerID != "alice" {
		t.Errorf("expected alice at frame 10, got %+v", frame10)
	}

	bobAnchors := store.AnchorsForPlayer("bob")
	if len(bobAnchors) != 1 || bobAnchors[0].JerseyNumber != "7" {
		t.Errorf("expected bob's anchor with jersey 7, got %+v", bobAnchors)
	}

	frames := store.AllAnchorFrames()
	if len(frames) != 2 || frames[0] != 10 || frames[1] != 20 {
		t.Errorf("expected frames [10,20], got %v", frames)
	}
}

func TestLoad_RejectsNonUnitConfidence(t *testing.T) {
	dir := t.TempDir()
	writeAnchorFile(t, dir, "anchors.json", `{
		"1": [{"player_name": "alice", "bbox": [0,0,50,100], "confidence": 0.9}]
	}`)

	_, err := Load("video1", dir)
	if err == nil {
		t.Fatal("expected FormatError for non-1.0 confidence")
	}
	if _, ok := err.(*FormatError); !ok {
		t.Errorf("expected *FormatError, got %T: %v", err, err)
	}
}

func TestLoad_RejectsDegenerateBBox(t *testing.T) {
	dir := t.TempDir()
	writeAnchorFile(t, dir, "anchors.json", `{
		"1": [{"player_name": "alice", "bbox": [50,50,50,100], "confidence": 1.0}]
	}`)

	_, err := Load("video1", dir)
	if err == nil {
		t.Fatal("expected FormatError for degenerate bbox")
	}
}

func TestLoad_RejectsMissingPlayerName(t *testing.T) {
	dir := t.TempDir()
	writeAnchorFile(t, dir, "anchors.json", `{
		"1": [{"player_name": "", "bbox": [0,0,50,100], "confidence": 1.0}]
	}`)

	_, err := Load("video1", dir)
	if err == nil {
		t.Fatal("expected FormatError for missing player name")
	}
}

func TestResolveDetection_PicksHighestIoU(t *testing.T) {
	anchor := model.Anchor{BBox: model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	candidates := []model.BBox{
		{X1: 100, Y1: 100, X2: 110, Y2: 110}, // no overlap
		{X1: 0, Y1: 0, X2: 10, Y2: 10},        // exact match
	}
	idx, ok := ResolveDetection(anchor, candidates,
		func(a, b model.BBox) float64 {
			if a == b {
				return 1.0
			}
			return 0.0
		},
		func(a, b model.BBox) float64 { return 0 },
	)
	if !ok || idx != 1 {
		t.Errorf("expected candidate 1 to win, got idx=%d ok=%v", idx, ok)
	}
}

func TestResolveDetection_NoOverlapReturnsFalse(t *testing.T) {
	anchor := model.Anchor{BBox: model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	candidates := []model.BBox{{X1: 100, Y1: 100, X2: 110, Y2: 110}}
	_, ok := ResolveDetection(anchor, candidates,
		func(a, b model.BBox) float64 { return 0 },
		func(a, b model.BBox) float64 { return 999 },
	)
	if ok {
		t.Error("expected no resolution when no candidate overlaps the anchor")
	}
}
