// Package anchors implements the Anchor Store (spec §4.3): a read-only,
// validated set of operator-supplied ground-truth tags loaded once per
// video and never mutated by the engine afterward.
package anchors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fieldlens/reidcore/internal/model"
)

// FormatError reports a schema violation in a loaded anchor file (spec
// §4.3: "Fails with AnchorFormatError if a loaded file violates the
// schema").
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("anchor file %s: %s", e.Path, e.Reason)
}

// fileSchema mirrors the on-disk per-frame anchor tag file (spec §6): a
// JSON object keyed by frame index, each value a list of player tags for
// that frame.
type fileSchema map[string][]model.AnchorRecord

// Store is the immutable, load-once anchor tag store for one video.
type Store struct {
	videoID string
	byFrame map[uint64][]model.Anchor
	byPlayer map[string][]model.Anchor
}

// Load reads every .json anchor tag file in dir (each a map of frame
// index to that frame's records, see loadFile) and validates each
// record against the schema before admitting it to the store.
func Load(videoID, dir string) (*Store, error) {
	s := &Store{
		videoID:  videoID,
		byFrame:  make(map[uint64][]model.Anchor),
		byPlayer: make(map[string][]model.Anchor),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read anchor dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read anchor file %s: %w", path, err)
	}

	var schema fileSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return &FormatError{Path: path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	for frameStr, records := range schema {
		frameIndex, err := parseFrameIndex(frameStr)
		if err != nil {
			return &FormatError{Path: path, Reason: fmt.Sprintf("frame key %q: %v", frameStr, err)}
		}
		for _, rec := range records {
			anchor, err := validate(frameIndex, rec)
			if err != nil {
				return &FormatError{Path: path, Reason: err.Error()}
			}
			anchor.VideoID = s.videoID
			s.byFrame[frameIndex] = append(s.byFrame[frameIndex], anchor)
			s.byPlayer[anchor.PlayerID] = append(s.byPlayer[anchor.PlayerID], anchor)
		}
	}
	return nil
}

func validate(frameIndex uint64, rec model.AnchorRecord) (model.Anchor, error) {
	if rec.PlayerName == "" {
		return model.Anchor{}, fmt.Errorf("frame %d: missing player name", frameIndex)
	}
	if rec.Confidence != 1.0 {
		return model.Anchor{}, fmt.Errorf("frame %d, player %s: confidence must be 1.0, got %f", frameIndex, rec.PlayerName, rec.Confidence)
	}
	x1, y1, x2, y2 := float64(rec.BBox[0]), float64(rec.BBox[1]), float64(rec.BBox[2]), float64(rec.BBox[3])
	if x2 <= x1 || y2 <= y1 {
		return model.Anchor{}, fmt.Errorf("frame %d, player %s: bbox out of frame or degenerate", frameIndex, rec.PlayerName)
	}

	anchor := model.Anchor{
		FrameIndex:   frameIndex,
		PlayerID:     rec.PlayerName,
		BBox:         model.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Confidence:   rec.Confidence,
	}
	if rec.TrackID != nil {
		tid := uint64(*rec.TrackID)
		anchor.TrackID = &tid
	}
	if rec.JerseyNumber != nil {
		anchor.JerseyNumber = *rec.JerseyNumber
	}
	if rec.Team != nil {
		anchor.TeamTag = *rec.Team
	}
	return anchor, nil
}

func parseFrameIndex(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("not a valid frame index: %w", err)
	}
	return n, nil
}

// AnchorsForFrame returns every anchor tagged at frameIndex, in stable
// order (spec §4.3).
func (s *Store) AnchorsForFrame(frameIndex uint64) []model.Anchor {
	out := append([]model.Anchor(nil), s.byFrame[frameIndex]...)
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// AnchorsForPlayer returns every anchor tagging playerID, ordered by frame.
func (s *Store) AnchorsForPlayer(playerID string) []model.Anchor {
	out := append([]model.Anchor(nil), s.byPlayer[playerID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].FrameIndex < out[j].FrameIndex })
	return out
}

// AllAnchorFrames returns every frame index carrying at least one anchor,
// in ascending order (modeling spec §4.3's BTreeSet<frame_index>).
func (s *Store) AllAnchorFrames() []uint64 {
	out := make([]uint64, 0, len(s.byFrame))
	for f := range s.byFrame {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveDetection picks which detection in candidates an anchor with no
// optional_track_id hint refers to: the candidate with the highest IoU
// against the anchor's bbox, ties broken by closest center distance (spec
// §9 open question decision).
func ResolveDetection(anchor model.Anchor, candidates []model.BBox, iou func(a, b model.BBox) float64, centerDistance func(a, b model.BBox) float64) (int, bool) {
	best := -1
	bestIoU := -1.0
	bestDist := 0.0
	for i, c := range candidates {
		v := iou(anchor.BBox, c)
		if v > bestIoU {
			bestIoU = v
			bestDist = centerDistance(anchor.BBox, c)
			best = i
		} else if v == bestIoU && best >= 0 {
			d := centerDistance(anchor.BBox, c)
			if d < bestDist {
				bestDist = d
				best = i
			}
		}
	}
	if best < 0 || bestIoU <= 0 {
		return -1, false
	}
	return best, true
}
