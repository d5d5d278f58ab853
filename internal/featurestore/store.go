package featurestore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/fieldlens/reidcore/internal/geometry"
	"github.com/fieldlens/reidcore/internal/model"
)

// RawDetection is the detector's raw output for one box in one frame,
// before any feature extraction.
type RawDetection struct {
	BBox       model.BBox
	Confidence float64
}

// Embedder computes an L2-normalised feature vector for one region crop.
// Implementations call out to an external embedding model; the Feature
// Store itself never hardcodes a model choice (spec §4.1).
type Embedder interface {
	Embed(ctx context.Context, regionJPEG []byte, region model.FeatureRegion) ([]float32, error)
}

// Store extracts per-detection, per-region features for a frame. It holds
// no state across frames (spec §4.1: "no cross-frame state").
type Store struct {
	embedder Embedder
}

// New builds a Feature Store backed by the given embedder.
func New(embedder Embedder) *Store {
	return &Store{embedder: embedder}
}

// Extract crops, embeds, and scores every raw detection in frameJPEG,
// returning model.Detection values in the same order as raw. A sub-region
// crop that is degenerate, or whose embedder call fails or returns a
// NaN-contaminated vector, is omitted for that region only; the caller
// (Matcher) copes with partial feature sets.
func (s *Store) Extract(ctx context.Context, frameIndex uint64, frameJPEG []byte, raw []RawDetection) ([]model.Detection, error) {
	return s.extract(ctx, frameIndex, frameJPEG, raw, 1)
}

// ExtractParallel is Extract with the per-detection crop/embed/score work
// dispatched across a bounded worker pool and joined before returning
// (spec §5: "feature extraction over N detections in one frame may be
// dispatched to a worker pool (<= CPU count) and joined before the
// Matcher runs"). The frame is still decoded once; only the per-box work
// is parallel. workers <= 1 behaves exactly like Extract.
func (s *Store) ExtractParallel(ctx context.Context, frameIndex uint64, frameJPEG []byte, raw []RawDetection, workers int) ([]model.Detection, error) {
	return s.extract(ctx, frameIndex, frameJPEG, raw, workers)
}

// JerseyCropJPEG re-decodes frameJPEG and re-encodes the jersey sub-region
// of bbox as a standalone JPEG, for callers (the frame coordinator's OCR
// sampling, spec §4.7) that need a crop outside the normal Extract path. It
// decodes the frame independently of any in-flight Extract call; callers on
// a hot path should prefer reusing an already-decoded frame where possible,
// but the coordinator only samples OCR on a small subset of frames (spec
// §4.7: SampleInterval) so the extra decode is not on the critical path.
func (s *Store) JerseyCropJPEG(frameJPEG []byte, bbox model.BBox) ([]byte, error) {
	frame, err := gocv.IMDecode(frameJPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame for jersey crop: %w", err)
	}
	defer frame.Close()
	if frame.Empty() {
		return nil, fmt.Errorf("decode frame for jersey crop: empty image")
	}

	rect := regionRect(bbox, model.RegionJersey, frame.Cols(), frame.Rows())
	if cropArea(rect) < MinCropArea {
		return nil, fmt.Errorf("jersey crop degenerate: area below threshold")
	}
	crop := frame.Region(rect)
	defer crop.Close()
	return encodeJPEG(crop)
}

func (s *Store) extract(ctx context.Context, frameIndex uint64, frameJPEG []byte, raw []RawDetection, workers int) ([]model.Detection, error) {
	frame, err := gocv.IMDecode(frameJPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", frameIndex, err)
	}
	defer frame.Close()
	if frame.Empty() {
		return nil, fmt.Errorf("decode frame %d: empty image", frameIndex)
	}

	out := make([]model.Detection, len(raw))
	if workers <= 1 || len(raw) <= 1 {
		for i, r := range raw {
			out[i] = s.extractDetection(ctx, frame, frameIndex, i, r, raw)
		}
		return out, nil
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, r := range raw {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, r RawDetection) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = s.extractDetection(ctx, frame, frameIndex, i, r, raw)
		}(i, r)
	}
	wg.Wait()
	return out, nil
}

// extractDetection runs the crop/embed/score pipeline for one raw
// detection against an already-decoded frame. Safe to call concurrently
// across detections from the same frame: gocv.Mat.Region returns an
// independent header over shared pixel data and each call only reads it.
func (s *Store) extractDetection(ctx context.Context, frame gocv.Mat, frameIndex uint64, i int, r RawDetection, raw []RawDetection) model.Detection {
	frameW, frameH := frame.Cols(), frame.Rows()
	det := model.Detection{
		FrameIndex:         frameIndex,
		BBox:               r.BBox,
		DetectorConfidence: r.Confidence,
		Features:           make(map[model.FeatureRegion][]float32),
	}

	var sharpSum float64
	var sharpN int
	for _, region := range model.AllRegions {
		rect := regionRect(r.BBox, region, frameW, frameH)
		if cropArea(rect) < MinCropArea {
			continue
		}
		crop := frame.Region(rect)
		vec, sharp, ok := s.extractRegion(ctx, crop, region)
		crop.Close()
		if !ok {
			continue
		}
		det.Features[region] = vec
		sharpSum += sharp
		sharpN++
	}

	avgSharp := 0.0
	if sharpN > 0 {
		avgSharp = sharpSum / float64(sharpN)
	}
	det.QualityScore = qualityScore(r.BBox, avgSharp, overlapPenalty(i, raw))
	return det
}

func (s *Store) extractRegion(ctx context.Context, crop gocv.Mat, region model.FeatureRegion) ([]float32, float64, bool) {
	sharp := sharpness(crop)
	jpeg, err := encodeJPEG(crop)
	if err != nil {
		return nil, 0, false
	}
	vec, err := s.embedder.Embed(ctx, jpeg, region)
	if err != nil || containsNaN(vec) || len(vec) == 0 {
		return nil, 0, false
	}
	return vec, sharp, true
}

func containsNaN(v []float32) bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) {
			return true
		}
	}
	return false
}

// qualityScore blends normalised area, aspect-ratio sanity, sharpness, and
// overlap penalty into a single [0, 1]-ish score (spec §4.1).
func qualityScore(b model.BBox, sharpness, overlap float64) float64 {
	area := b.Area()
	if area <= 0 {
		return 0
	}
	areaScore := math.Min(1.0, area/40000.0) // saturate around a ~200x200 box

	aspect := b.Width() / b.Height()
	// Person bboxes are taller than wide; penalize squat or very tall boxes.
	aspectScore := 1.0 - math.Min(1.0, math.Abs(aspect-0.45)/0.45)

	sharpScore := math.Min(1.0, sharpness/500.0)

	score := 0.35*areaScore + 0.25*aspectScore + 0.25*sharpScore + 0.15*(1-overlap)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// overlapPenalty is the highest IoU between detection i and any other
// detection in the same frame, used to down-weight ambiguous crowded boxes.
func overlapPenalty(i int, raw []RawDetection) float64 {
	max := 0.0
	for j, other := range raw {
		if j == i {
			continue
		}
		if iou := geometry.IoU(raw[i].BBox, other.BBox); iou > max {
			max = iou
		}
	}
	return max
}
