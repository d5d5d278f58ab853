package model

// ProtectionZone is the time-varying constraint level the Protection
// Engine computes for a (track, player) pair (spec §4.4).
type ProtectionZone string

const (
	ZoneHard  ProtectionZone = "Hard"
	ZoneSoft  ProtectionZone = "Soft"
	ZoneDecay ProtectionZone = "Decay"
	ZoneNone  ProtectionZone = "None"
)

// ProtectionWindow is the derived, per-(track,player) active window with
// precomputed zone boundaries relative to the anchor frame (spec §3).
type ProtectionWindow struct {
	TrackID  uint64
	PlayerID string

	// AnchorFrame is the frame the window is centered on (real anchor, or
	// the frame an auto-protection synthetic anchor was minted at).
	AnchorFrame uint64

	HardEnd  uint64 // anchorFrame + hardFrames: the Hard half-width boundary
	SoftEnd  uint64 // anchorFrame + softFrames: the Soft half-width boundary
	DecayEnd uint64 // anchorFrame + decayFrames: the Decay half-width boundary

	// Synthetic marks an auto-protection window (spec §4.4: sustained
	// >=0.80 similarity for >=100 frames). Unlike a real anchor's window,
	// which is centered on the anchor frame (spec §6: anchor_hard_frames
	// etc. are "half-widths"), a synthetic window has no meaning before
	// the frame it was minted at -- it "extends forward with the track"
	// (spec §4.4) -- so it never protects frames before AnchorFrame.
	Synthetic bool
}

// ZoneAt returns the protection zone for this window at frame f, and the
// required similarity multiplier for Soft/Decay overrides (spec §4.4:
// 3x at the Soft boundary, decaying linearly to 1x by the Decay
// boundary). Real-anchor windows are symmetric around AnchorFrame (spec
// §3/§4.4/§8 scenario 1: "anchor at frame 100 ... frames 50-150 all emit
// ... Hard"); synthetic (auto-protection) windows only look forward.
func (w ProtectionWindow) ZoneAt(f uint64) (ProtectionZone, float64) {
	var dist uint64
	switch {
	case f >= w.AnchorFrame:
		dist = f - w.AnchorFrame
	case w.Synthetic:
		return ZoneNone, 0
	default:
		dist = w.AnchorFrame - f
	}

	hardFrames := w.HardEnd - w.AnchorFrame
	softFrames := w.SoftEnd - w.AnchorFrame
	decayFrames := w.DecayEnd - w.AnchorFrame

	switch {
	case dist <= hardFrames:
		return ZoneHard, 0
	case dist <= softFrames:
		return ZoneSoft, 3.0
	case dist <= decayFrames:
		span := float64(decayFrames - softFrames)
		if span <= 0 {
			return ZoneDecay, 1.0
		}
		frac := float64(dist-softFrames) / span
		mult := 3.0 - 2.0*frac // falls from 3x to 1x
		if mult < 1.0 {
			mult = 1.0
		}
		return ZoneDecay, mult
	default:
		return ZoneNone, 0
	}
}
