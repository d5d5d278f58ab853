package model

import "time"

// CorrectionKind identifies the variant of an operator correction message
// (spec §6).
type CorrectionKind string

const (
	CorrectionSetPlayer      CorrectionKind = "SetPlayer"
	CorrectionUnassign       CorrectionKind = "Unassign"
	CorrectionLockAssignment CorrectionKind = "LockAssignment"
)

// Correction is a single operator message arriving on the correction
// channel. It carries no response; effects are visible starting the next
// processed frame (spec §5, §6).
type Correction struct {
	Kind      CorrectionKind
	TrackID   uint64
	PlayerID  string // empty for Unassign
	Timestamp time.Time
}

// ConflictType enumerates the invariant violations the Conflict Resolver
// can raise (spec §4.8).
type ConflictType string

const (
	ConflictPlayerDoubleAssigned ConflictType = "player_conflict"
	ConflictJerseyCollision      ConflictType = "jersey_conflict"
)

// PlayerConflict is the event emitted when a proposed assignment would
// violate a uniqueness invariant (spec §4.8, §8).
type PlayerConflict struct {
	Type      ConflictType
	PlayerID  string
	Tracks    []uint64
	Frame     uint64
	Timestamp time.Time
	Resolved  bool   // true when the challenger displaced the incumbent; false when the challenge was vetoed
	WinnerTrack uint64
}

// RunCounters accumulates the per-run report spec §7 requires on shutdown.
type RunCounters struct {
	DroppedAnchors       int
	CorruptGalleryRecords int
	ProtectionBreaches   int
	FeatureExtractionMisses int
	FramesProcessed      int
}
