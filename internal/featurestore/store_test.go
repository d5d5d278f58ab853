package featurestore

import (
	"context"
	"testing"

	"gocv.io/x/gocv"

	"github.com/fieldlens/reidcore/internal/model"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, regionJPEG []byte, region model.FeatureRegion) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
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

func TestStore_Extract_ProducesFeaturesForValidBox(t *testing.T) {
	frame := solidFrameJPEG(t, 200, 400)
	store := New(&fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}})

	raw := []RawDetection{{BBox: model.BBox{X1: 20, Y1: 20, X2: 100, Y2: 300}, Confidence: 0.9}}
	dets, err := store.Extract(context.Background(), 5, frame, raw)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	d := dets[0]
	if !d.HasRegion(model.RegionBody) {
		t.Errorf("expected body region to be populated")
	}
	if d.QualityScore <= 0 {
		t.Errorf("expected positive quality score, got %f", d.QualityScore)
	}
}

func TestStore_Extract_DegenerateBoxYieldsNoRegions(t *testing.T) {
	frame := solidFrameJPEG(t, 200, 400)
	store := New(&fakeEmbedder{vec: []float32{0.1}})

	raw := []RawDetection{{BBox: model.BBox{X1: 5, Y1: 5, X2: 6, Y2: 6}, Confidence: 0.5}}
	dets, err := store.Extract(context.Background(), 0, frame, raw)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if dets[0].RegionCount() != 0 {
		t.Errorf("expected no usable regions for a degenerate box, got %d", dets[0].RegionCount())
	}
}

func TestStore_Extract_EmbedderFailureOmitsRegionOnly(t *testing.T) {
	frame := solidFrameJPEG(t, 200, 400)
	store := New(&fakeEmbedder{err: context.DeadlineExceeded})

	raw := []RawDetection{{BBox: model.BBox{X1: 20, Y1: 20, X2: 100, Y2: 300}, Confidence: 0.9}}
	dets, err := store.Extract(context.Background(), 0, frame, raw)
	if err != nil {
		t.Fatalf("Extract should fail soft, got error: %v", err)
	}
	if dets[0].RegionCount() != 0 {
		t.Errorf("expected embedder failure to drop all regions, got %d", dets[0].RegionCount())
	}
	if dets[0].QualityScore < 0 {
		t.Errorf("quality score should still be computed independent of embedding, got %f", dets[0].QualityScore)
	}
}

func TestOverlapPenalty_HighForOverlappingBoxes(t *testing.T) {
	raw := []RawDetection{
		{BBox: model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{BBox: model.BBox{X1: 1, Y1: 1, X2: 11, Y2: 11}},
	}
	if got := overlapPenalty(0, raw); got <= 0 {
		t.Errorf("expected positive overlap penalty for heavily overlapping boxes, got %f", got)
	}
}
