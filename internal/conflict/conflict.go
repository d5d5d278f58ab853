// Package conflict implements the Conflict Resolver (spec §4.8): the
// exclusive keeper of two global uniqueness invariants (one active track
// per player, one active track per jersey number) plus the operator
// correction queue that can override either.
//
// Grounded on the teacher's internal/tracking/interaction_detector.go:
// its active-state map plus monotonic-counter plus append-only-history
// shape is reused here for conflict events instead of physical
// interactions, and its "single mutex-guarded struct, plain methods, no
// channel-of-structs" idiom is kept for the resolver itself. The
// operator correction queue is a plain buffered channel of
// model.Correction, consistent with the pack's lightweight in-process
// queue idiom (seen in the teacher's redis_consumer.go, simplified here
// from a distributed queue to an in-process one since corrections are
// same-process operator input, not cross-service traffic).
package conflict

import (
	"sync"
	"time"

	"github.com/fieldlens/reidcore/internal/model"
)

// DisplacementConfidenceMargin is how much higher a challenger's
// similarity must be than the incumbent's to displace it (spec §4.8:
// "veto unless the new assignment has markedly higher confidence").
// Spec.md leaves the exact margin unspecified; this value is an
// interpretive choice, exposed here so callers building a custom
// Resolver can tune it if 0.1 proves too strict or too lax in practice.
const DisplacementConfidenceMargin = 0.1

// lockState records whether an active assignment was placed by an
// operator LockAssignment correction, which makes it immune to
// PlayerConflict eviction (spec §4.8: "neither is operator-locked"), plus
// the similarity the assignment was made with so a later challenger can
// be compared against it.
type lockState struct {
	trackID    uint64
	locked     bool
	similarity float64
}

// Resolver holds the two global uniqueness maps and the pending
// operator-correction queue.
type Resolver struct {
	mu sync.RWMutex

	playerToTrack map[string]lockState // player_id -> active track (+ lock bit)
	jerseyToTrack map[string]uint64    // jersey_number -> active track

	history []model.PlayerConflict

	corrections chan model.Correction
}

// New creates a Conflict Resolver with a buffered correction queue.
func New(queueDepth int) *Resolver {
	return &Resolver{
		playerToTrack: make(map[string]lockState),
		jerseyToTrack: make(map[string]uint64),
		corrections:   make(chan model.Correction, queueDepth),
	}
}

// Submit enqueues an operator correction (spec §4.8: "operator
// corrections enter via a thread-safe queue"). The send is a plain
// channel send: when queueDepth corrections are already waiting, Submit
// blocks until the next DrainCorrections makes room. No queued
// correction is dropped or superseded.
func (r *Resolver) Submit(c model.Correction) {
	r.corrections <- c
}

// DrainCorrections returns every correction currently queued without
// blocking (spec §5: corrections are consumed once per frame, at the
// start of the Matcher's per-frame procedure).
func (r *Resolver) DrainCorrections() []model.Correction {
	var out []model.Correction
	for {
		select {
		case c := <-r.corrections:
			out = append(out, c)
		default:
			return out
		}
	}
}

// ApplyCorrection updates the global maps directly from an operator
// correction, bypassing conflict checks (an operator's word is final,
// spec §4.8/§6).
func (r *Resolver) ApplyCorrection(c model.Correction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.Kind {
	case model.CorrectionUnassign:
		r.clearTrackLocked(c.TrackID)
	case model.CorrectionSetPlayer:
		r.clearTrackLocked(c.TrackID)
		r.playerToTrack[c.PlayerID] = lockState{trackID: c.TrackID, similarity: 1.0}
	case model.CorrectionLockAssignment:
		r.playerToTrack[c.PlayerID] = lockState{trackID: c.TrackID, locked: true, similarity: 1.0}
	}
}

func (r *Resolver) clearTrackLocked(trackID uint64) {
	for playerID, ls := range r.playerToTrack {
		if ls.trackID == trackID {
			delete(r.playerToTrack, playerID)
		}
	}
	for jersey, tid := range r.jerseyToTrack {
		if tid == trackID {
			delete(r.jerseyToTrack, jersey)
		}
	}
}

// Propose asks whether (trackID -> playerID) may be committed this
// frame, optionally carrying the candidate's jersey number and the
// similarity it was matched with. Returns (accepted, demotedTrack,
// conflict). demotedTrack is non-nil only when accepted displaced a
// different track's ownership of playerID -- the caller must clear that
// track's own assignment, since the Resolver only owns the two
// uniqueness maps, not Track.AssignedPlayerID (spec §8 Uniqueness: "at
// most one track_id carries that player_id" at any frame).
//
// A double-assignment is vetoed unless the challenger's similarity beats
// the incumbent's by DisplacementConfidenceMargin (spec §4.8: "veto
// unless the new assignment has markedly higher confidence"); either way
// a PlayerConflict is recorded, with Resolved reflecting the outcome.
func (r *Resolver) Propose(trackID uint64, playerID string, jerseyNumber string, similarity float64, frame uint64) (bool, *uint64, *model.PlayerConflict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if jerseyNumber != "" {
		if owner, ok := r.jerseyToTrack[jerseyNumber]; ok && owner != trackID {
			return false, nil, nil // jersey collision: veto, Matcher tries next candidate
		}
	}

	existing, ok := r.playerToTrack[playerID]
	if ok && existing.trackID != trackID {
		if existing.locked {
			return false, nil, nil // operator-locked: veto regardless of confidence
		}

		accepted := similarity > existing.similarity+DisplacementConfidenceMargin
		conflict := model.PlayerConflict{
			Type:      model.ConflictPlayerDoubleAssigned,
			PlayerID:  playerID,
			Tracks:    []uint64{existing.trackID, trackID},
			Frame:     frame,
			Timestamp: time.Now(),
			Resolved:  accepted,
		}
		if !accepted {
			conflict.WinnerTrack = existing.trackID
			r.history = append(r.history, conflict)
			return false, nil, &conflict
		}

		conflict.WinnerTrack = trackID
		r.history = append(r.history, conflict)
		demoted := existing.trackID
		delete(r.jerseyToTrack, jerseyFor(r.jerseyToTrack, existing.trackID))
		r.playerToTrack[playerID] = lockState{trackID: trackID, similarity: similarity}
		if jerseyNumber != "" {
			r.jerseyToTrack[jerseyNumber] = trackID
		}
		return true, &demoted, &conflict
	}

	r.playerToTrack[playerID] = lockState{trackID: trackID, locked: existing.locked, similarity: similarity}
	if jerseyNumber != "" {
		r.jerseyToTrack[jerseyNumber] = trackID
	}
	return true, nil, nil
}

// jerseyFor finds the jersey number (if any) currently mapped to
// trackID, so demotion can clear it alongside the player mapping.
func jerseyFor(jerseyToTrack map[string]uint64, trackID uint64) string {
	for jersey, tid := range jerseyToTrack {
		if tid == trackID {
			return jersey
		}
	}
	return ""
}

// NoteTrackDead removes trackID's entries from both uniqueness maps
// (spec §4.8: "on track death, remove its entries from both maps").
func (r *Resolver) NoteTrackDead(trackID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearTrackLocked(trackID)
}

// ActiveTrackFor returns the track currently holding playerID, if any.
func (r *Resolver) ActiveTrackFor(playerID string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ls, ok := r.playerToTrack[playerID]
	return ls.trackID, ok
}

// History returns every recorded conflict so far, resolved or vetoed,
// oldest first.
func (r *Resolver) History() []model.PlayerConflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PlayerConflict, len(r.history))
	copy(out, r.history)
	return out
}
