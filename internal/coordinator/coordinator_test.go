package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/fieldlens/reidcore/internal/anchors"
	"github.com/fieldlens/reidcore/internal/conflict"
	"github.com/fieldlens/reidcore/internal/featurestore"
	"github.com/fieldlens/reidcore/internal/gallery"
	"github.com/fieldlens/reidcore/internal/matcher"
	"github.com/fieldlens/reidcore/internal/model"
	"github.com/fieldlens/reidcore/internal/protection"
	"github.com/fieldlens/reidcore/internal/tracker"
)

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, regionJPEG []byte, region model.FeatureRegion) ([]float32, error) {
	return f.vec, nil
}

func solidFrameJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out
}

func writeAnchorFile(t *testing.T, dir string, frameIndex int, playerName string, bbox [4]int) {
	t.Helper()
	schema := map[string][]model.AnchorRecord{
		itoa(frameIndex): {
			{PlayerName: playerName, BBox: bbox, Confidence: 1.0},
		},
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal anchor file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "anchors.json"), raw, 0o644); err != nil {
		t.Fatalf("write anchor file: %v", err)
	}
}

func itoa(n int) string {
	return string([]byte{byte('0' + n)})
}

func newTestCoordinator(t *testing.T, cfg model.Config, anchorDir string) (*Coordinator, *gallery.Gallery, *conflict.Resolver, *protection.Engine) {
	t.Helper()
	cfg = cfg.WithDefaults()

	tr := tracker.New(cfg, nil)
	store := featurestore.New(&fakeEmbedder{vec: []float32{0.3, 0.4, 0.5}})

	var anchorStore *anchors.Store
	if anchorDir != "" {
		var err error
		anchorStore, err = anchors.Load("video-1", anchorDir)
		if err != nil {
			t.Fatalf("load anchors: %v", err)
		}
	}

	galPath := filepath.Join(t.TempDir(), "gallery.json")
	gal := gallery.New(galPath, cfg.PersistenceIntervalDetections)
	prot := protection.New(cfg)
	if anchorStore != nil {
		prot.LoadAnchors(flattenAnchors(anchorStore))
	}
	resolver := conflict.New(10)
	match := matcher.New(cfg, gal, anchorStore, prot, resolver)

	c := New(cfg, "video-1", "run-1", tr, store, anchorStore, gal, prot, resolver, match, nil, nil, nil)
	return c, gal, resolver, prot
}

func flattenAnchors(s *anchors.Store) []model.Anchor {
	var out []model.Anchor
	for _, f := range s.AllAnchorFrames() {
		out = append(out, s.AnchorsForFrame(f)...)
	}
	return out
}

func TestCoordinator_ProcessFrame_AnchorResolvesAndHardProtects(t *testing.T) {
	dir := t.TempDir()
	writeAnchorFile(t, dir, 0, "alice", [4]int{20, 20, 100, 300})

	c, _, _, _ := newTestCoordinator(t, model.Config{}, dir)

	frame := Frame{
		Index: 0,
		JPEG:  solidFrameJPEG(t, 200, 400),
		Detections: []featurestore.RawDetection{
			{BBox: model.BBox{X1: 20, Y1: 20, X2: 100, Y2: 300}, Confidence: 0.9},
		},
	}

	rows, err := c.ProcessFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("ProcessFrame returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 output row, got %d", len(rows))
	}
	row := rows[0]
	if row.PlayerID == nil || *row.PlayerID != "alice" {
		t.Fatalf("expected track assigned to alice via resolved anchor, got %+v", row.PlayerID)
	}
	if row.ProtectionZone != model.ZoneHard {
		t.Errorf("expected Hard protection zone on the anchor frame, got %s", row.ProtectionZone)
	}

	counters := c.Counters()
	if counters.DroppedAnchors != 0 {
		t.Errorf("expected no dropped anchors, got %d", counters.DroppedAnchors)
	}
	if counters.FramesProcessed != 1 {
		t.Errorf("expected FramesProcessed=1, got %d", counters.FramesProcessed)
	}
}

func TestCoordinator_ProcessFrame_UnresolvableAnchorIsDropped(t *testing.T) {
	dir := t.TempDir()
	writeAnchorFile(t, dir, 0, "alice", [4]int{20, 20, 100, 300})

	c, _, _, _ := newTestCoordinator(t, model.Config{}, dir)

	// Confidence below TrackThresh: no track spawns, so the anchor has
	// nothing to resolve against this frame.
	frame := Frame{
		Index: 0,
		JPEG:  solidFrameJPEG(t, 200, 400),
		Detections: []featurestore.RawDetection{
			{BBox: model.BBox{X1: 20, Y1: 20, X2: 100, Y2: 300}, Confidence: 0.1},
		},
	}

	rows, err := c.ProcessFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("ProcessFrame returned error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no live tracks, got %d rows", len(rows))
	}
	if got := c.Counters().DroppedAnchors; got != 1 {
		t.Errorf("expected 1 dropped anchor, got %d", got)
	}
}

func TestCoordinator_ProcessFrame_RetiresDeadTracks(t *testing.T) {
	cfg := model.Config{LostTrackBufferSeconds: 0.1, FPS: 10} // buffer = 1 frame
	c, _, resolver, prot := newTestCoordinator(t, cfg, "")

	det := featurestore.RawDetection{BBox: model.BBox{X1: 20, Y1: 20, X2: 100, Y2: 300}, Confidence: 0.9}
	frameJPEG := solidFrameJPEG(t, 200, 400)

	rows, err := c.ProcessFrame(context.Background(), Frame{Index: 0, JPEG: frameJPEG, Detections: []featurestore.RawDetection{det}})
	if err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row at frame 0, got %d", len(rows))
	}
	trackID := rows[0].TrackID

	if _, err := c.ProcessFrame(context.Background(), Frame{Index: 1, JPEG: frameJPEG}); err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if _, err := c.ProcessFrame(context.Background(), Frame{Index: 2, JPEG: frameJPEG}); err != nil {
		t.Fatalf("frame 2: %v", err)
	}

	tr, ok := c.tr.Tracks()[trackID]
	if !ok {
		t.Fatalf("expected track %d to still be present (pruned, not deleted)", trackID)
	}
	if tr.State != model.StateDead {
		t.Fatalf("expected track %d to be Dead after exceeding the lost-track buffer, got %s", trackID, tr.State)
	}

	// retireDeadTracks should already have told both collaborators this
	// track died; a second, manual NoteTrackDead call must be a no-op,
	// not a panic, confirming both maps were already cleared.
	resolver.NoteTrackDead(trackID)
	prot.NoteTrackDead(trackID)
}
