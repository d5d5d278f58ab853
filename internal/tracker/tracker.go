// Package tracker implements the Tracker component (spec §4.2): Kalman
// motion prediction, IoU/expansion-IoU cost-matrix construction, Hungarian
// or greedy assignment, and the Tentative/Confirmed/Lost/Dead track
// lifecycle.
//
// Grounded on the teacher's internal/tracking/multi_object_tracker.go: a
// map of live tracks guarded by sync.RWMutex, matched/unmatched bookkeeping
// per Update call, and a LostFrames-driven lifecycle, generalised from
// normalized-box IOU-only matching to a Kalman-predicted, expansion-IoU,
// Hungarian-solved cost matrix per spec §4.2.
package tracker

import (
	"log"
	"sort"

	"github.com/fieldlens/reidcore/internal/assign"
	"github.com/fieldlens/reidcore/internal/geometry"
	"github.com/fieldlens/reidcore/internal/kalman"
	"github.com/fieldlens/reidcore/internal/model"
)

// DetectionSoftLimit caps how many detections are processed in a single
// frame; excess low-confidence detections are dropped and logged (spec
// §4.2 failure modes).
const DetectionSoftLimit = 60

// CovarianceBound is the diagonal covariance value past which a filter is
// considered numerically exploded.
const CovarianceBound = 1e8

// TrackedDetection pairs an assigned track id with the detection matched
// to it in the current frame.
type TrackedDetection struct {
	TrackID   uint64
	Detection model.Detection
}

// Tracker owns the active-track map and per-track Kalman filters for one
// video. Not safe for concurrent Update calls; the Coordinator drives it
// single-threaded per spec §5.
type Tracker struct {
	cfg         model.Config
	tracks      map[uint64]*model.Track
	filters     map[uint64]*kalman.BoxFilter
	nextTrackID uint64
	logger      *log.Logger
}

// New builds a Tracker for one video using the given resolved config.
func New(cfg model.Config, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		cfg:         cfg,
		tracks:      make(map[uint64]*model.Track),
		filters:     make(map[uint64]*kalman.BoxFilter),
		nextTrackID: 1,
		logger:      logger,
	}
}

// Tracks returns the live track-id -> Track map. Callers must not retain
// pointers across the next Update call.
func (t *Tracker) Tracks() map[uint64]*model.Track {
	return t.tracks
}

// Update runs one frame through the tracker's full algorithm (spec §4.2
// steps 1-5) and returns every detection paired with its assigned track.
func (t *Tracker) Update(frameIndex uint64, detections []model.Detection) []TrackedDetection {
	detections = t.applySoftLimit(frameIndex, detections)

	predicted := t.predictAll(frameIndex)

	cost, rowIdx, colIdx := t.buildCostMatrix(frameIndex, detections, predicted)

	threshold := 1 - t.cfg.MatchThresh
	matches, unmatchedRows, unmatchedCols := assign.Hungarian(cost, threshold)
	if len(cost) == 0 {
		// An empty cost matrix carries no column count, so every predicted
		// track is unmatched in a frame without detections.
		for c := range colIdx {
			unmatchedCols = append(unmatchedCols, c)
		}
	}

	out := make([]TrackedDetection, 0, len(detections))
	matchedTrackIDs := make(map[uint64]bool, len(matches))

	for _, m := range matches {
		trackID := colIdx[m.Col]
		det := detections[rowIdx[m.Row]]
		t.applyObservation(trackID, det)
		matchedTrackIDs[trackID] = true
		out = append(out, TrackedDetection{TrackID: trackID, Detection: det})
	}

	for _, r := range unmatchedRows {
		det := detections[rowIdx[r]]
		if det.DetectorConfidence >= t.cfg.TrackThresh {
			trackID := t.spawnTrack(frameIndex, det)
			out = append(out, TrackedDetection{TrackID: trackID, Detection: det})
		}
	}

	for _, c := range unmatchedCols {
		trackID := colIdx[c]
		t.markUnmatched(trackID)
	}

	t.ageAndPrune(frameIndex)

	return out
}

// predictAll advances every Tentative/Confirmed/Lost track's Kalman filter one step
// and mirrors the result into Track.Kalman (spec §4.2 step 1).
func (t *Tracker) predictAll(frameIndex uint64) map[uint64]model.BBox {
	predicted := make(map[uint64]model.BBox, len(t.tracks))
	for id, tr := range t.tracks {
		if tr.State != model.StateConfirmed && tr.State != model.StateLost && tr.State != model.StateTentative {
			continue
		}
		if tr.Locked {
			predicted[id] = tr.Kalman.BBox()
			continue
		}
		filter := t.filters[id]
		cx, cy, w, h := filter.Predict()
		tr.Kalman = kalmanStateFrom(filter)
		predicted[id] = model.BBox{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
	}
	return predicted
}

// buildCostMatrix returns a detections x tracks cost matrix (1 - expansion
// IoU, with an additive penalty for Lost tracks proportional to frames
// since last seen), plus the row/col index -> detection-index/track-id
// lookups needed to interpret assign's results.
func (t *Tracker) buildCostMatrix(frameIndex uint64, detections []model.Detection, predicted map[uint64]model.BBox) (cost [][]float64, rowIdx []int, colIdx []uint64) {
	for id := range predicted {
		colIdx = append(colIdx, id)
	}
	sort.Slice(colIdx, func(i, j int) bool { return colIdx[i] < colIdx[j] })

	rowIdx = make([]int, len(detections))
	for i := range detections {
		rowIdx[i] = i
	}

	cost = make([][]float64, len(detections))
	for i, det := range detections {
		cost[i] = make([]float64, len(colIdx))
		for j, id := range colIdx {
			tr := t.tracks[id]
			speed := 0.0
			if filter := t.filters[id]; filter != nil {
				speed = filter.Speed() / (tr.Kalman.BBox().Width() + 1e-6)
			}
			iou := geometry.ExpansionIoU(det.BBox, predicted[id], t.cfg.ExpansionIOUMargin, speed)
			c := 1 - iou
			if tr.State == model.StateLost {
				framesSince := float64(frameIndex - tr.LastSeenFrame)
				c += 0.01 * framesSince
			}
			cost[i][j] = c
		}
	}
	return cost, rowIdx, colIdx
}

// applyObservation Kalman-updates the matched track, applies EMA smoothing
// to the output box, pushes the detection to the ring buffer, and advances
// the hit/miss counters (spec §4.2 step 4).
func (t *Tracker) applyObservation(trackID uint64, det model.Detection) {
	tr := t.tracks[trackID]
	filter := t.filters[trackID]

	if tr.Locked {
		tr.PushDetection(det)
		tr.LastSeenFrame = det.FrameIndex
		return
	}

	cx, cy := det.BBox.CenterX(), det.BBox.CenterY()
	filter.Update(cx, cy, det.BBox.Width(), det.BBox.Height())

	if filter.CovarianceExploded(CovarianceBound) {
		filter.ResetVelocity()
		t.logger.Printf("tracker: track %d covariance exploded, velocity reset", trackID)
	}

	tr.Kalman = kalmanStateFrom(filter)
	tr.LastSeenFrame = det.FrameIndex
	tr.ConsecutiveHits++
	tr.ConsecutiveMisses = 0
	tr.FramesLost = 0
	tr.PushDetection(det)

	alpha := t.cfg.EMAAlpha
	if tr.EMABBox == (model.BBox{}) {
		tr.EMABBox = det.BBox
	} else {
		tr.EMABBox = emaBox(tr.EMABBox, det.BBox, alpha)
	}

	if tr.State == model.StateTentative && tr.ConsecutiveHits >= t.cfg.MinTrackLength {
		tr.State = model.StateConfirmed
	} else if tr.State == model.StateLost {
		tr.State = model.StateConfirmed
	}
}

// markUnmatched demotes an unmatched track toward Lost and ages it.
func (t *Tracker) markUnmatched(trackID uint64) {
	tr := t.tracks[trackID]
	if tr.Locked {
		return
	}
	tr.ConsecutiveMisses++
	tr.ConsecutiveHits = 0
	if tr.State == model.StateConfirmed || tr.State == model.StateTentative {
		tr.State = model.StateLost
	}
	tr.FramesLost++
}

// ageAndPrune demotes Lost tracks whose FramesLost has exceeded the
// framerate-invariant lost-track buffer to Dead, and drops the Dead
// tracks' filters (spec §4.2 step 5).
func (t *Tracker) ageAndPrune(frameIndex uint64) {
	buffer := t.cfg.LostTrackBufferFrames()
	for id, tr := range t.tracks {
		if tr.State == model.StateLost && uint64(tr.FramesLost) > buffer {
			tr.State = model.StateDead
		}
		if tr.State == model.StateDead {
			delete(t.filters, id)
		}
	}
}

// applySoftLimit keeps at most DetectionSoftLimit detections, the highest
// by confidence, logging how many were dropped (spec §4.2 failure modes).
func (t *Tracker) applySoftLimit(frameIndex uint64, detections []model.Detection) []model.Detection {
	if len(detections) <= DetectionSoftLimit {
		return detections
	}
	sorted := make([]model.Detection, len(detections))
	copy(sorted, detections)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DetectorConfidence > sorted[j].DetectorConfidence
	})
	dropped := len(sorted) - DetectionSoftLimit
	t.logger.Printf("tracker: frame %d has %d detections, dropping %d lowest-confidence", frameIndex, len(detections), dropped)
	return sorted[:DetectionSoftLimit]
}

// spawnTrack creates a new Tentative track for an unmatched, sufficiently
// confident detection.
func (t *Tracker) spawnTrack(frameIndex uint64, det model.Detection) uint64 {
	id := t.nextTrackID
	t.nextTrackID++

	filter := kalman.NewBoxFilter(det.BBox.CenterX(), det.BBox.CenterY(), det.BBox.Width(), det.BBox.Height(), kalman.DefaultParams())
	t.filters[id] = filter

	tr := &model.Track{
		TrackID:        id,
		State:          model.StateTentative,
		FirstSeenFrame: frameIndex,
		LastSeenFrame:  frameIndex,
		Kalman:         kalmanStateFrom(filter),
		EMABBox:        det.BBox,
		ConsecutiveHits: 1,
	}
	tr.PushDetection(det)
	t.tracks[id] = tr
	return id
}

func kalmanStateFrom(f *kalman.BoxFilter) model.KalmanState {
	cx, cy, w, h, vcx, vcy, vw, vh := f.State()
	return model.KalmanState{CenterX: cx, CenterY: cy, Width: w, Height: h, VelX: vcx, VelY: vcy, VelW: vw, VelH: vh}
}

func emaBox(prev, cur model.BBox, alpha float64) model.BBox {
	return model.BBox{
		X1: alpha*prev.X1 + (1-alpha)*cur.X1,
		Y1: alpha*prev.Y1 + (1-alpha)*cur.Y1,
		X2: alpha*prev.X2 + (1-alpha)*cur.X2,
		Y2: alpha*prev.Y2 + (1-alpha)*cur.Y2,
	}
}
