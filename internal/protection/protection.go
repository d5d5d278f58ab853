// Package protection implements the Protection Engine (spec §4.4): for
// every (track_id, player_id) pair with anchor history it precomputes a
// union of protection windows, then answers per-frame zone queries the
// Matcher uses to veto or discount alternative candidates.
//
// Grounded on the teacher's internal/tracking/interaction_detector.go: an
// active-state map guarded by a mutex, events recomputed incrementally as
// frames arrive, and a terminal "ended" transition on the underlying
// object's death. Generalised from pairwise track interactions to
// per-track protection windows with Hard/Soft/Decay zones.
package protection

import (
	"sort"
	"sync"

	"github.com/fieldlens/reidcore/internal/model"
)

// AutoProtectThreshold and AutoProtectMinStreak implement spec §4.4's
// auto-protection rule: a track holding the same assignment with >=0.80
// gallery similarity for >=100 consecutive frames earns a synthetic
// anchor window.
const (
	AutoProtectThreshold = 0.80
	AutoProtectMinStreak = 100
)

// streak tracks a live track's consecutive high-similarity run toward
// auto-protection, and whether auto-protection has already fired for the
// current assignment.
type streak struct {
	playerID string
	run      int
	armed    bool // true once a synthetic window has been minted for this run
}

// Engine holds every (track, player) protection window derived from real
// anchors plus any auto-protection windows minted at runtime.
type Engine struct {
	mu sync.RWMutex

	cfg model.Config

	// windows holds, per track, every window opened for that track,
	// newest anchor last. A track can accumulate multiple, possibly
	// overlapping, windows across its lifetime as new anchors arrive.
	windows map[uint64][]model.ProtectionWindow

	streaks map[uint64]*streak
}

// New creates a Protection Engine.
func New(cfg model.Config) *Engine {
	return &Engine{
		cfg:     cfg,
		windows: make(map[uint64][]model.ProtectionWindow),
		streaks: make(map[uint64]*streak),
	}
}

// LoadAnchors seeds one protection window per anchor already resolved to
// a track (spec §4.4: "precomputes the union of protection windows over
// the entire video"). Anchors not yet resolved to a track_id (the
// resolution happens against that frame's detections elsewhere) are
// skipped; call OpenWindow once resolution assigns a track.
func (e *Engine) LoadAnchors(anchors []model.Anchor) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range anchors {
		if a.TrackID == nil {
			continue
		}
		e.openWindowLocked(*a.TrackID, a.PlayerID, a.FrameIndex, false)
	}
}

// OpenWindow opens a protection window for one anchor resolved to a
// track at runtime (the anchor's bbox matched a live detection on
// track_id this frame).
func (e *Engine) OpenWindow(trackID uint64, playerID string, anchorFrame uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openWindowLocked(trackID, playerID, anchorFrame, false)
}

func (e *Engine) openWindowLocked(trackID uint64, playerID string, anchorFrame uint64, synthetic bool) {
	w := model.ProtectionWindow{
		TrackID:     trackID,
		PlayerID:    playerID,
		AnchorFrame: anchorFrame,
		HardEnd:     anchorFrame + e.cfg.AnchorHardFrames,
		SoftEnd:     anchorFrame + e.cfg.AnchorSoftFrames,
		DecayEnd:    anchorFrame + e.cfg.AnchorDecayFrames,
		Synthetic:   synthetic,
	}
	e.windows[trackID] = append(e.windows[trackID], w)
}

// ZoneAt returns the protection zone and required similarity multiplier
// in effect for trackID at frameIndex, along with the protected
// player_id (empty if the zone is None). When multiple windows for a
// track overlap at this frame, the most restrictive zone wins (Hard >
// Soft > Decay > None), and ties within a zone prefer the most recently
// opened window.
func (e *Engine) ZoneAt(trackID uint64, frameIndex uint64) (model.ProtectionZone, float64, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	windows := e.windows[trackID]
	if len(windows) == 0 {
		return model.ZoneNone, 0, ""
	}

	bestRank := -1
	var bestZone model.ProtectionZone
	var bestMult float64
	var bestPlayer string

	for i := len(windows) - 1; i >= 0; i-- {
		zone, mult := windows[i].ZoneAt(frameIndex)
		rank := zoneRank(zone)
		if rank > bestRank {
			bestRank = rank
			bestZone = zone
			bestMult = mult
			bestPlayer = windows[i].PlayerID
		}
	}
	if bestRank <= zoneRank(model.ZoneNone) {
		return model.ZoneNone, 0, ""
	}
	return bestZone, bestMult, bestPlayer
}

func zoneRank(z model.ProtectionZone) int {
	switch z {
	case model.ZoneHard:
		return 3
	case model.ZoneSoft:
		return 2
	case model.ZoneDecay:
		return 1
	default:
		return 0
	}
}

// NoteAssignment feeds one frame's committed (track, player, similarity)
// observation into the auto-protection streak tracker (spec §4.4). When
// the streak reaches AutoProtectMinStreak consecutive frames at or above
// AutoProtectThreshold, a synthetic anchor window is opened at the
// current frame and extends forward with the track.
func (e *Engine) NoteAssignment(trackID uint64, playerID string, similarity float64, frameIndex uint64) {
	if playerID == "" {
		e.mu.Lock()
		delete(e.streaks, trackID)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streaks[trackID]
	if !ok || s.playerID != playerID {
		s = &streak{playerID: playerID}
		e.streaks[trackID] = s
	}

	if similarity >= AutoProtectThreshold {
		s.run++
	} else {
		s.run = 0
		s.armed = false
	}

	if s.run >= AutoProtectMinStreak && !s.armed {
		e.openWindowLocked(trackID, playerID, frameIndex, true)
		s.armed = true
	}
}

// NoteTrackDead terminates all protection for trackID (spec §4.4: "once
// an anchor-protected track becomes Dead, its protection terminates").
// If the same player reappears on a different track, protection does not
// carry over; it re-arms only when a fresh anchor or auto-protection
// streak opens a window on the new track.
func (e *Engine) NoteTrackDead(trackID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.windows, trackID)
	delete(e.streaks, trackID)
}

// ActiveWindows returns a frame's Hard/Soft/Decay protected tracks,
// sorted by TrackID, for diagnostics and audit reporting.
func (e *Engine) ActiveWindows(frameIndex uint64) []model.ProtectionWindow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var active []model.ProtectionWindow
	for trackID, windows := range e.windows {
		zone, _, player := e.zoneAtLocked(trackID, windows, frameIndex)
		if zone == model.ZoneNone {
			continue
		}
		active = append(active, model.ProtectionWindow{
			TrackID:  trackID,
			PlayerID: player,
		})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].TrackID < active[j].TrackID })
	return active
}

func (e *Engine) zoneAtLocked(trackID uint64, windows []model.ProtectionWindow, frameIndex uint64) (model.ProtectionZone, float64, string) {
	bestRank := -1
	var bestZone model.ProtectionZone
	var bestMult float64
	var bestPlayer string
	for i := len(windows) - 1; i >= 0; i-- {
		zone, mult := windows[i].ZoneAt(frameIndex)
		rank := zoneRank(zone)
		if rank > bestRank {
			bestRank = rank
			bestZone = zone
			bestMult = mult
			bestPlayer = windows[i].PlayerID
		}
	}
	if bestRank <= zoneRank(model.ZoneNone) {
		return model.ZoneNone, 0, ""
	}
	return bestZone, bestMult, bestPlayer
}
