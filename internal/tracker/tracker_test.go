package tracker

import (
	"testing"

	"github.com/fieldlens/reidcore/internal/model"
)

func detAt(frame uint64, x1, y1, x2, y2, conf float64) model.Detection {
	return model.Detection{
		FrameIndex:         frame,
		BBox:               model.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		DetectorConfidence: conf,
	}
}

func newTestTracker() *Tracker {
	cfg := model.Defaults().WithDefaults()
	return New(cfg, nil)
}

func TestTracker_SpawnsTrackForUnmatchedConfidentDetection(t *testing.T) {
	tr := newTestTracker()
	out := tr.Update(0, []model.Detection{detAt(0, 0, 0, 50, 100, 0.9)})
	if len(out) != 1 {
		t.Fatalf("expected 1 tracked detection, got %d", len(out))
	}
	if len(tr.Tracks()) != 1 {
		t.Fatalf("expected 1 live track, got %d", len(tr.Tracks()))
	}
}

func TestTracker_LowConfidenceDetectionDoesNotSpawnTrack(t *testing.T) {
	tr := newTestTracker()
	out := tr.Update(0, []model.Detection{detAt(0, 0, 0, 50, 100, 0.1)})
	if len(out) != 0 {
		t.Fatalf("expected 0 tracked detections for low-confidence box, got %d", len(out))
	}
}

func TestTracker_MatchesSameTrackAcrossFrames(t *testing.T) {
	tr := newTestTracker()
	tr.Update(0, []model.Detection{detAt(0, 0, 0, 50, 100, 0.9)})

	out := tr.Update(1, []model.Detection{detAt(1, 2, 2, 52, 102, 0.9)})
	if len(out) != 1 {
		t.Fatalf("expected 1 tracked detection, got %d", len(out))
	}
	if len(tr.Tracks()) != 1 {
		t.Fatalf("expected the same track reused, got %d live tracks", len(tr.Tracks()))
	}
}

func TestTracker_ConfirmsAfterMinTrackLength(t *testing.T) {
	tr := newTestTracker()
	var id uint64
	for i := uint64(0); i < 3; i++ {
		out := tr.Update(i, []model.Detection{detAt(i, 0, 0, 50, 100, 0.9)})
		id = out[0].TrackID
	}
	track := tr.Tracks()[id]
	if track.State != model.StateConfirmed {
		t.Errorf("expected track confirmed after min_track_length hits, got %s", track.State)
	}
}

func TestTracker_UnmatchedTrackGoesLostThenDead(t *testing.T) {
	tr := newTestTracker()
	out := tr.Update(0, []model.Detection{detAt(0, 0, 0, 50, 100, 0.9)})
	id := out[0].TrackID

	// Far-away detections every frame never match; the live track should
	// go Lost and eventually Dead within the configured buffer.
	buffer := tr.cfg.LostTrackBufferFrames()
	for i := uint64(1); i <= buffer+2; i++ {
		tr.Update(i, []model.Detection{detAt(i, 10000, 10000, 10050, 10100, 0.9)})
	}

	track, exists := tr.Tracks()[id]
	if exists && track.State != model.StateDead {
		t.Errorf("expected original track Dead after exceeding lost buffer, got %s", track.State)
	}
}

func TestTracker_SoftLimitDropsExcessDetections(t *testing.T) {
	tr := newTestTracker()
	var dets []model.Detection
	for i := 0; i < DetectionSoftLimit+10; i++ {
		dets = append(dets, detAt(0, float64(i*200), 0, float64(i*200+50), 100, 0.9))
	}
	out := tr.Update(0, dets)
	if len(out) > DetectionSoftLimit {
		t.Errorf("expected at most %d tracked detections after soft limit, got %d", DetectionSoftLimit, len(out))
	}
}
