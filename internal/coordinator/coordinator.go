// Package coordinator drives the per-frame pipeline (spec §5): extract
// features, update the tracker, resolve anchors against this frame's
// detections, sample jersey OCR, run the Matcher (which first drains
// operator corrections), persist the Gallery on its cadence, retire dead tracks from
// the Protection Engine and Conflict Resolver, and emit one OutputRow per
// live track.
//
// Grounded on the teacher's internal/processor/frame_batcher.go: a
// bounded worker pool joined with sync.WaitGroup before the caller
// continues, and a periodically-logged stats struct guarded by its own
// mutex. Generalised from "batch frames for GPU inference" to "fan the
// feature extraction for one frame's detections across a worker pool,
// then run the single-threaded matching procedure the tracker and
// Matcher require" (spec §5: the frame loop itself is single-threaded;
// only feature extraction parallelises).
package coordinator

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/fieldlens/reidcore/internal/anchors"
	"github.com/fieldlens/reidcore/internal/audit"
	"github.com/fieldlens/reidcore/internal/conflict"
	"github.com/fieldlens/reidcore/internal/featurestore"
	"github.com/fieldlens/reidcore/internal/gallery"
	"github.com/fieldlens/reidcore/internal/geometry"
	"github.com/fieldlens/reidcore/internal/matcher"
	"github.com/fieldlens/reidcore/internal/model"
	"github.com/fieldlens/reidcore/internal/ocr"
	"github.com/fieldlens/reidcore/internal/protection"
	"github.com/fieldlens/reidcore/internal/tracker"
)

// Frame is one decoded input unit for the pipeline: a JPEG-encoded image
// plus the detector's raw boxes for it.
type Frame struct {
	Index      uint64
	JPEG       []byte
	Detections []featurestore.RawDetection
}

// Stats accumulates periodically-logged pipeline counters, mirroring the
// teacher's BatcherStats shape.
type Stats struct {
	mu              sync.RWMutex
	FramesProcessed int64
	RowsEmitted     int64
	LastFrameAt     time.Time
}

func (s *Stats) noteFrame(rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesProcessed++
	s.RowsEmitted += int64(rows)
	s.LastFrameAt = time.Now()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{FramesProcessed: s.FramesProcessed, RowsEmitted: s.RowsEmitted, LastFrameAt: s.LastFrameAt}
}

// Coordinator wires every other component into the per-frame pipeline for
// one video/run.
type Coordinator struct {
	cfg     model.Config
	videoID string
	runID   string

	tr          *tracker.Tracker
	store       *featurestore.Store
	anchorStore *anchors.Store
	gal         *gallery.Gallery
	prot        *protection.Engine
	resolver    *conflict.Resolver
	match       *matcher.Matcher
	ocrProvider ocr.Provider
	auditRec    *audit.Recorder

	logger *log.Logger
	stats  Stats

	workers int

	mu        sync.Mutex
	counters  model.RunCounters
	liveState map[uint64]model.TrackState // previous frame's track states, for death detection
}

// New builds a Coordinator. auditRec and anchorStore may be nil (no
// audit backend configured; no anchor file supplied for this video).
func New(
	cfg model.Config,
	videoID, runID string,
	tr *tracker.Tracker,
	store *featurestore.Store,
	anchorStore *anchors.Store,
	gal *gallery.Gallery,
	prot *protection.Engine,
	resolver *conflict.Resolver,
	match *matcher.Matcher,
	ocrProvider ocr.Provider,
	auditRec *audit.Recorder,
	logger *log.Logger,
) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	if ocrProvider == nil {
		ocrProvider = ocr.NoneProvider{}
	}
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		cfg:         cfg,
		videoID:     videoID,
		runID:       runID,
		tr:          tr,
		store:       store,
		anchorStore: anchorStore,
		gal:         gal,
		prot:        prot,
		resolver:    resolver,
		match:       match,
		ocrProvider: ocrProvider,
		auditRec:    auditRec,
		logger:      logger,
		workers:     workers,
		liveState:   make(map[uint64]model.TrackState),
	}
}

// Counters returns a copy of the run's accumulated report counters (spec
// §7).
func (c *Coordinator) Counters() model.RunCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// Stats returns a copy of the coordinator's throughput counters.
func (c *Coordinator) Stats() Stats {
	return c.stats.Snapshot()
}

// Run consumes frames in order until the channel closes or ctx is
// cancelled, calling emit with each frame's output rows. On return
// (either path) it performs one final Gallery snapshot and, if an audit
// Recorder is configured, finalises the run record (spec §5: "on clean
// shutdown, flush the current frame and take one final Gallery
// snapshot").
func (c *Coordinator) Run(ctx context.Context, frames <-chan Frame, emit func(rows []model.OutputRow) error) error {
	statsDone := make(chan struct{})
	go c.logStatsPeriodically(ctx, statsDone)
	defer close(statsDone)

	status := "completed"
	runErr := c.runLoop(ctx, frames, emit)
	if runErr != nil && runErr != context.Canceled {
		status = "failed"
	}

	if err := c.gal.Save(); err != nil {
		c.logger.Printf("coordinator: final gallery save failed: %v", err)
	}
	if c.auditRec != nil {
		if err := c.auditRec.FinalizeRun(context.Background(), c.runID, c.Counters(), time.Now(), status); err != nil {
			c.logger.Printf("coordinator: finalize run record failed: %v", err)
		}
	}
	return runErr
}

func (c *Coordinator) runLoop(ctx context.Context, frames <-chan Frame, emit func(rows []model.OutputRow) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			rows, err := c.ProcessFrame(ctx, f)
			if err != nil {
				c.logger.Printf("coordinator: frame %d failed: %v", f.Index, err)
				continue
			}
			c.stats.noteFrame(len(rows))
			if err := emit(rows); err != nil {
				return fmt.Errorf("emit frame %d: %w", f.Index, err)
			}
		}
	}
}

// ProcessFrame runs one frame through the full pipeline (spec §5's
// numbered sequence) and returns its output rows in track-id order.
func (c *Coordinator) ProcessFrame(ctx context.Context, f Frame) ([]model.OutputRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dets, err := c.store.ExtractParallel(ctx, f.Index, f.JPEG, f.Detections, c.workers)
	if err != nil {
		c.mu.Lock()
		c.counters.FeatureExtractionMisses++
		c.mu.Unlock()
		return nil, fmt.Errorf("extract features for frame %d: %w", f.Index, err)
	}

	tracked := c.tr.Update(f.Index, dets)

	detByTrack := make(map[uint64]model.Detection, len(tracked))
	for _, td := range tracked {
		detByTrack[td.TrackID] = td.Detection
	}

	c.resolveAnchors(f.Index, tracked)
	c.sampleOCR(ctx, f, detByTrack)

	tracks := c.tr.Tracks()
	protectedBefore := c.protectedPlayers(tracks, f.Index)

	conflicts := c.match.Process(f.Index, c.videoID, tracks, detByTrack)

	c.noteBreaches(tracks, protectedBefore)
	c.recordConflicts(ctx, conflicts)
	c.persistOnCadence(len(tracked))
	c.retireDeadTracks(tracks)

	c.mu.Lock()
	c.counters.FramesProcessed++
	c.mu.Unlock()

	return c.emitRows(f.Index, tracks), nil
}

// resolveAnchors matches every anchor at this frame that carries no
// optional_track_id hint against the frame's live detections (spec §9
// open question: highest-IoU candidate, ties broken by center distance),
// opening a Protection Engine window on the resolved track. Anchors that
// already name a track_id were opened once at load time; anchors that
// resolve to nothing are dropped and counted for the run report (spec
// §4.3 failure modes).
func (c *Coordinator) resolveAnchors(frameIndex uint64, tracked []tracker.TrackedDetection) {
	if c.anchorStore == nil {
		return
	}
	anchorsHere := c.anchorStore.AnchorsForFrame(frameIndex)
	if len(anchorsHere) == 0 {
		return
	}

	candidates := make([]model.BBox, len(tracked))
	for i, td := range tracked {
		candidates[i] = td.Detection.BBox
	}

	for _, a := range anchorsHere {
		if a.TrackID != nil {
			continue
		}
		idx, ok := anchors.ResolveDetection(a, candidates, geometry.IoU, geometry.CenterDistance)
		if !ok {
			c.mu.Lock()
			c.counters.DroppedAnchors++
			c.mu.Unlock()
			c.logger.Printf("coordinator: anchor for player %q at frame %d resolved to no detection", a.PlayerID, frameIndex)
			continue
		}
		c.prot.OpenWindow(tracked[idx].TrackID, a.PlayerID, frameIndex)
	}
}

// sampleOCR runs jersey OCR for every track matched this frame on its
// sampling cadence (spec §4.7).
func (c *Coordinator) sampleOCR(ctx context.Context, f Frame, detByTrack map[uint64]model.Detection) {
	if !ocr.ShouldSample(f.Index) {
		return
	}
	tracks := c.tr.Tracks()
	for trackID, det := range detByTrack {
		track, ok := tracks[trackID]
		if !ok {
			continue
		}
		crop, err := c.store.JerseyCropJPEG(f.JPEG, det.BBox)
		if err != nil {
			continue // degenerate jersey crop this frame; not an error worth surfacing
		}
		ocr.Decode(ctx, c.ocrProvider, track, f.Index, crop)
	}
}

// protectedPlayers snapshots, for every Hard/Soft/Decay-protected live
// track, which player it is protected for, so noteBreaches can tell
// whether the Matcher's commit honoured that protection.
func (c *Coordinator) protectedPlayers(tracks map[uint64]*model.Track, frameIndex uint64) map[uint64]string {
	out := make(map[uint64]string)
	for trackID, tr := range tracks {
		if tr.State == model.StateDead {
			continue
		}
		zone, _, player := c.prot.ZoneAt(trackID, frameIndex)
		if zone != model.ZoneNone && player != "" {
			out[trackID] = player
		}
	}
	return out
}

// noteBreaches counts a protection breach whenever a track that was
// protected for a player before the Matcher ran ends this frame assigned
// to someone else (spec §4.4/§4.5 step 5: protection should veto such a
// switch unless the alternative clears the zone's similarity bar).
func (c *Coordinator) noteBreaches(tracks map[uint64]*model.Track, protectedBefore map[uint64]string) {
	if len(protectedBefore) == 0 {
		return
	}
	var breaches int
	for trackID, expected := range protectedBefore {
		tr, ok := tracks[trackID]
		if !ok {
			continue
		}
		if tr.AssignedPlayerID != "" && tr.AssignedPlayerID != expected {
			breaches++
		}
	}
	if breaches == 0 {
		return
	}
	c.mu.Lock()
	c.counters.ProtectionBreaches += breaches
	c.mu.Unlock()
}

func (c *Coordinator) recordConflicts(ctx context.Context, conflicts []model.PlayerConflict) {
	if c.auditRec == nil {
		return
	}
	for _, cf := range conflicts {
		if err := c.auditRec.RecordConflict(ctx, c.runID, cf); err != nil {
			c.logger.Printf("coordinator: record conflict failed: %v", err)
		}
	}
}

// persistOnCadence feeds this frame's matched-detection count into the
// Gallery's persistence counter and saves once the configured interval is
// crossed (spec §4.6: "after every N detections added").
func (c *Coordinator) persistOnCadence(detectionsThisFrame int) {
	due := false
	for i := 0; i < detectionsThisFrame; i++ {
		if c.gal.NoteDetectionAdded() {
			due = true
		}
	}
	if !due {
		return
	}
	if err := c.gal.Save(); err != nil {
		c.logger.Printf("coordinator: cadence gallery save failed: %v", err)
	}
}

// retireDeadTracks detects tracks that transitioned to Dead this frame
// and tells the Protection Engine and Conflict Resolver to drop their
// state (spec §4.4, §4.8: "once a track becomes Dead, its protection/
// uniqueness claims terminate").
func (c *Coordinator) retireDeadTracks(tracks map[uint64]*model.Track) {
	for trackID, tr := range tracks {
		prev := c.liveState[trackID] // zero value "" never equals StateDead
		if tr.State == model.StateDead {
			if prev != model.StateDead {
				c.prot.NoteTrackDead(trackID)
				c.resolver.NoteTrackDead(trackID)
			}
		}
		c.liveState[trackID] = tr.State
	}
}

// emitRows builds one OutputRow per live track, sorted by track id (spec
// §6: "rows are emitted in frame-monotonic order").
func (c *Coordinator) emitRows(frameIndex uint64, tracks map[uint64]*model.Track) []model.OutputRow {
	ids := make([]uint64, 0, len(tracks))
	for id, tr := range tracks {
		if tr.State == model.StateDead {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]model.OutputRow, 0, len(ids))
	for _, id := range ids {
		tr := tracks[id]
		row := model.OutputRow{
			FrameIndex:     frameIndex,
			TrackID:        id,
			BBox:           tr.EMABBox,
			ProtectionZone: model.ZoneNone,
		}

		zone, _, _ := c.prot.ZoneAt(id, frameIndex)
		row.ProtectionZone = zone

		if last := tr.LastDetection(); last != nil {
			row.DetectorConfidence = last.DetectorConfidence
			row.UniformSignature = last.UniformSignature
		}

		if tr.AssignedPlayerID != "" {
			playerID := tr.AssignedPlayerID
			row.PlayerID = &playerID
			if p, ok := c.gal.Profile(playerID); ok {
				name := p.DisplayName
				row.PlayerName = &name
			}
			if n := len(tr.ConfidenceHistory); n > 0 {
				sim := tr.ConfidenceHistory[n-1]
				row.GallerySimilarity = &sim
			}
		}

		rows = append(rows, row)
	}
	return rows
}

func (c *Coordinator) logStatsPeriodically(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s := c.stats.Snapshot()
			c.logger.Printf("coordinator: frames=%d rows=%d last=%s", s.FramesProcessed, s.RowsEmitted, s.LastFrameAt.Format(time.RFC3339))
		}
	}
}
