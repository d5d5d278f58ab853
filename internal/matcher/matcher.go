// Package matcher implements the Matcher (spec §4.5): the per-frame
// fusion point that reconciles the tracker's assignments, the Gallery,
// the Anchor Store, the Protection Engine, and the Conflict Resolver
// into one committed (track_id -> player_id) mapping per frame.
//
// No teacher file attempts multi-source fusion like this -- person_reid.go
// does single-identity lookup only -- so this package is built directly
// from spec.md's eight-step procedure, reusing the plain-struct,
// explicit-method style established across the other internal packages.
package matcher

import (
	"math"
	"strings"

	"github.com/fieldlens/reidcore/internal/anchors"
	"github.com/fieldlens/reidcore/internal/conflict"
	"github.com/fieldlens/reidcore/internal/gallery"
	"github.com/fieldlens/reidcore/internal/model"
	"github.com/fieldlens/reidcore/internal/protection"
)

// Score adjustment constants (spec §4.5 step 4).
const (
	JerseyExactBonus      = 0.15
	JerseySubstringBonus  = 0.05
	TeamAgreeBonus        = 0.02
	TeamDisagreePenalty   = 0.08
	UniformVariantBonusLo = 0.05
	UniformVariantBonusHi = 0.10
	EarlyFrameBonus       = 0.10
	EarlyFrameCutoff      = 1000
	HardNegativeCosine    = 0.7 // similarity >= this is "within 0.3 cosine distance"
	BreadcrumbBonusBase   = 0.15
	BreadcrumbBonusStep   = 0.05
	BreadcrumbBonusCap    = 0.25
)

// scoredCandidate is a gallery candidate after step-4 adjustment.
type scoredCandidate struct {
	PlayerID   string
	Similarity float64
}

// Matcher owns no state of its own beyond operator-correction
// breadcrumbs; the Gallery, Protection Engine, and Conflict Resolver it
// is given own everything else.
type Matcher struct {
	cfg         model.Config
	gal         *gallery.Gallery
	anchorStore *anchors.Store
	prot        *protection.Engine
	resolver    *conflict.Resolver

	// breadcrumbs[trackID][playerID] counts how many times an operator
	// has corrected trackID to playerID, feeding the step-4 breadcrumb
	// bonus (spec §4.5 step 4, step 1: "logs a breadcrumb").
	breadcrumbs map[uint64]map[string]int
}

// New creates a Matcher over the given collaborators.
func New(cfg model.Config, gal *gallery.Gallery, anchorStore *anchors.Store, prot *protection.Engine, resolver *conflict.Resolver) *Matcher {
	return &Matcher{
		cfg:         cfg,
		gal:         gal,
		anchorStore: anchorStore,
		prot:        prot,
		resolver:    resolver,
		breadcrumbs: make(map[uint64]map[string]int),
	}
}

// Process runs one frame's matching procedure against tracks (mutated in
// place: AssignedPlayerID, ConfidenceHistory) and detections (the
// feature-bearing observation matched to each track this frame, absent
// for tracks the tracker did not match). It returns every PlayerConflict
// recorded this frame, resolved or vetoed, for audit reporting.
func (m *Matcher) Process(frameIndex uint64, videoID string, tracks map[uint64]*model.Track, detections map[uint64]model.Detection) []model.PlayerConflict {
	var conflicts []model.PlayerConflict
	skip := make(map[uint64]bool)

	// Step 1: consume operator overrides.
	for _, c := range m.resolver.DrainCorrections() {
		m.resolver.ApplyCorrection(c)
		skip[c.TrackID] = true
		track, ok := tracks[c.TrackID]
		if !ok {
			continue
		}
		switch c.Kind {
		case model.CorrectionSetPlayer:
			track.AssignedPlayerID = c.PlayerID
			m.addBreadcrumb(c.TrackID, c.PlayerID)
		case model.CorrectionUnassign:
			track.AssignedPlayerID = ""
		case model.CorrectionLockAssignment:
			track.Locked = true
			track.AssignedPlayerID = c.PlayerID
			m.addBreadcrumb(c.TrackID, c.PlayerID)
		}
	}

	// Step 2: hard-protected anchors assign unconditionally.
	excludedPlayers := make(map[string]bool)
	for trackID, track := range tracks {
		if skip[trackID] || track.State == model.StateDead || track.Locked {
			continue
		}
		zone, _, player := m.prot.ZoneAt(trackID, frameIndex)
		if zone != model.ZoneHard || player == "" {
			continue
		}
		track.AssignedPlayerID = player
		track.ConfidenceHistory = append(track.ConfidenceHistory, 1.0)
		excludedPlayers[player] = true
		skip[trackID] = true
		m.prot.NoteAssignment(trackID, player, 1.0, frameIndex)
		m.learnFromAnchor(trackID, player, frameIndex, videoID, detections)
	}

	// Steps 3-8: gallery-query and commit every remaining track.
	for trackID, track := range tracks {
		if skip[trackID] || track.State == model.StateDead || track.Locked {
			continue
		}
		det, hasDet := detections[trackID]
		if !hasDet || det.RegionCount() == 0 {
			continue // failure mode: carry previous assignment unchanged
		}

		zone, mult, protPlayer := m.prot.ZoneAt(trackID, frameIndex)
		floor := m.adaptiveThreshold(det)

		raw := m.gal.Query(det.Features, excludedPlayers, floor)
		scored := make([]scoredCandidate, 0, len(raw))
		for _, c := range raw {
			adjusted, vetoed := m.adjustCandidate(trackID, track, det, c.PlayerID, c.Similarity)
			if vetoed {
				continue
			}
			scored = append(scored, scoredCandidate{PlayerID: c.PlayerID, Similarity: adjusted})
		}
		sortDesc(scored)

		if zone == model.ZoneSoft || zone == model.ZoneDecay {
			scored = m.enforceProtection(trackID, track, det, protPlayer, mult, scored)
		}

		playerID, similarity, committed := m.commit(trackID, tracks, scored, frameIndex, &conflicts)
		if !committed {
			continue
		}

		track.AssignedPlayerID = playerID
		track.ConfidenceHistory = append(track.ConfidenceHistory, similarity)
		m.prot.NoteAssignment(trackID, playerID, similarity, frameIndex)
		if !m.gal.ReadOnly() {
			det.FrameIndex = frameIndex
			_ = m.gal.Update(playerID, det, videoID)
		}
	}

	return conflicts
}

// commit walks candidates best-first through the Conflict Resolver until
// one is accepted, or leaves the track unassigned this frame (spec §4.5
// step 7). When an accepted candidate displaces a different live track's
// ownership of that player, the displaced track's own assignment is
// cleared so the two tracks never both carry the same player_id this
// frame (spec §8 Uniqueness).
func (m *Matcher) commit(trackID uint64, tracks map[uint64]*model.Track, candidates []scoredCandidate, frameIndex uint64, conflicts *[]model.PlayerConflict) (string, float64, bool) {
	for _, c := range candidates {
		jersey := ""
		if p, ok := m.gal.Profile(c.PlayerID); ok {
			jersey = p.JerseyNumber
		}
		ok, demoted, conflict := m.resolver.Propose(trackID, c.PlayerID, jersey, c.Similarity, frameIndex)
		if conflict != nil {
			*conflicts = append(*conflicts, *conflict)
		}
		if !ok {
			continue
		}
		if demoted != nil {
			if dt, found := tracks[*demoted]; found {
				dt.AssignedPlayerID = ""
			}
		}
		return c.PlayerID, c.Similarity, true
	}
	return "", 0, false
}

// enforceProtection implements spec §4.5 step 5: a Soft/Decay-protected
// track only switches away from its protected player if the best
// alternative beats the protected player's own (adjusted) similarity by
// the zone's multiplier.
func (m *Matcher) enforceProtection(trackID uint64, track *model.Track, det model.Detection, protPlayer string, mult float64, scored []scoredCandidate) []scoredCandidate {
	if protPlayer == "" {
		return scored
	}
	if len(scored) > 0 && scored[0].PlayerID == protPlayer {
		return scored
	}

	var protSim float64
	found := false
	for _, c := range scored {
		if c.PlayerID == protPlayer {
			protSim = c.Similarity
			found = true
			break
		}
	}
	if !found {
		base, ok := m.gal.ScoreOne(det.Features, protPlayer)
		if ok {
			protSim, _ = m.adjustCandidate(trackID, track, det, protPlayer, base)
		}
	}

	if len(scored) > 0 && scored[0].Similarity > protSim*mult {
		return scored // alternative clears the bar; let it through
	}
	return []scoredCandidate{{PlayerID: protPlayer, Similarity: protSim}}
}

// adjustCandidate applies every step-4 score adjustment to one
// candidate, returning (adjusted similarity, vetoed).
func (m *Matcher) adjustCandidate(trackID uint64, track *model.Track, det model.Detection, playerID string, similarity float64) (float64, bool) {
	profile, ok := m.gal.Profile(playerID)
	if !ok {
		return similarity, false
	}

	sim := similarity

	if digits, _ := track.RecentJerseyConsensus(); digits != "" && profile.JerseyNumber != "" {
		switch {
		case digits == profile.JerseyNumber:
			sim += JerseyExactBonus
		case strings.Contains(profile.JerseyNumber, digits) || strings.Contains(digits, profile.JerseyNumber):
			sim += JerseySubstringBonus
		}
	}

	if det.TeamTag != "" && profile.TeamTag != "" {
		if det.TeamTag == profile.TeamTag {
			sim += TeamAgreeBonus
		} else if m.cfg.Mode == model.ModeGame {
			return 0, true // strict game mode: disagreement vetoes
		} else {
			sim -= TeamDisagreePenalty
		}
	}

	if det.UniformSignature != nil {
		if _, ok := profile.Variants[det.UniformSignature.Key()]; ok {
			sim += (UniformVariantBonusLo + UniformVariantBonusHi) / 2
		}
	}

	if earliestReferenceFrame(profile) <= EarlyFrameCutoff {
		sim += EarlyFrameBonus
	}

	sim -= hardNegativePenalty(det, profile, m.cfg.HardNegativePenaltyCap)

	if bonus, ok := m.breadcrumbBonus(trackID, playerID); ok {
		sim += bonus
	}

	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim, false
}

// earliestReferenceFrame returns the lowest frame_index among a
// profile's reference frames (across the unscoped bucket and every
// variant), or a value beyond EarlyFrameCutoff if the profile has none.
func earliestReferenceFrame(p *model.PlayerProfile) uint64 {
	earliest := uint64(EarlyFrameCutoff) + 1
	for _, f := range p.ReferenceFrames {
		if f.FrameIndex < earliest {
			earliest = f.FrameIndex
		}
	}
	for _, v := range p.Variants {
		for _, f := range v.ReferenceFrames {
			if f.FrameIndex < earliest {
				earliest = f.FrameIndex
			}
		}
	}
	return earliest
}

// hardNegativePenalty returns a positive value to subtract from a
// candidate's similarity when the detection's feature vector sits too
// close to one of the candidate's stored hard negatives (spec §4.5 step
// 4), capped at cfg.HardNegativePenaltyCap.
func hardNegativePenalty(det model.Detection, profile *model.PlayerProfile, penaltyCap float64) float64 {
	if len(profile.HardNegatives) == 0 {
		return 0
	}
	vec := representativeVector(det)
	if len(vec) == 0 {
		return 0
	}
	worst := 0.0
	for _, neg := range profile.HardNegatives {
		if s := cosine(vec, neg.Vector); s >= HardNegativeCosine && s > worst {
			worst = s
		}
	}
	if worst == 0 {
		return 0
	}
	penalty := (worst - HardNegativeCosine) / (1 - HardNegativeCosine) * penaltyCap
	if penalty > penaltyCap {
		penalty = penaltyCap
	}
	return penalty
}

// representativeVector picks one feature vector to stand in for a
// detection in single-vector comparisons (hard-negative check), body
// region preferred since it is present most often and most stable.
func representativeVector(det model.Detection) []float32 {
	if v, ok := det.Features[model.RegionBody]; ok && len(v) > 0 {
		return v
	}
	for _, r := range model.AllRegions {
		if v, ok := det.Features[r]; ok && len(v) > 0 {
			return v
		}
	}
	return nil
}

// addBreadcrumb records an operator correction of trackID to playerID.
func (m *Matcher) addBreadcrumb(trackID uint64, playerID string) {
	if m.breadcrumbs[trackID] == nil {
		m.breadcrumbs[trackID] = make(map[string]int)
	}
	m.breadcrumbs[trackID][playerID]++
}

// breadcrumbBonus returns the step-4 breadcrumb bonus for (trackID,
// playerID), scaling from BreadcrumbBonusBase toward BreadcrumbBonusCap
// with repeated corrections (spec §4.5 step 4: "+0.15-0.25").
func (m *Matcher) breadcrumbBonus(trackID uint64, playerID string) (float64, bool) {
	count, ok := m.breadcrumbs[trackID][playerID]
	if !ok || count == 0 {
		return 0, false
	}
	bonus := BreadcrumbBonusBase + float64(count-1)*BreadcrumbBonusStep
	if bonus > BreadcrumbBonusCap {
		bonus = BreadcrumbBonusCap
	}
	return bonus, true
}

// adaptiveThreshold computes the effective gallery-match floor for one
// query (spec §4.5 step 6): high quality + a diverse (mutually
// dissimilar) gallery pushes the floor up; low quality + a confusable
// gallery relaxes it. Never falls below the operator-configured floor.
// The exact blend is an interpretive choice -- spec.md leaves the
// formula open -- but the directional requirements are honoured.
func (m *Matcher) adaptiveThreshold(det model.Detection) float64 {
	if !m.cfg.AdaptiveThreshold {
		return m.cfg.GallerySimFloor
	}
	confusability := m.averageDiversity(det)
	adjustment := 0.15*det.QualityScore - 0.15*confusability
	eff := m.cfg.GallerySimFloor + adjustment*(1-m.cfg.GallerySimFloor)
	if eff < m.cfg.GallerySimFloor {
		eff = m.cfg.GallerySimFloor
	}
	if eff > 0.95 {
		eff = 0.95
	}
	return eff
}

func (m *Matcher) averageDiversity(det model.Detection) float64 {
	var sum float64
	var n int
	for region := range det.Features {
		sum += m.gal.DiversityOf(region)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// learnFromAnchor feeds a hard-protected anchor's detection into the
// Gallery so that anchor-driven identities learn immediately rather than
// waiting for an unprotected frame (spec §8 scenario 4: "immediately
// after frame 10, Gallery contains a dave profile with... non-empty
// feature banks"). If the tracker matched a real, feature-bearing
// detection to trackID this frame, that detection (with the anchor's
// jersey/team metadata merged in) is used; otherwise only the anchor's
// jersey/team ledger entries are recorded, at zero feature weight.
func (m *Matcher) learnFromAnchor(trackID uint64, playerID string, frameIndex uint64, videoID string, detections map[uint64]model.Detection) {
	if m.anchorStore == nil || m.gal.ReadOnly() {
		return
	}

	var jersey, team string
	for _, a := range m.anchorStore.AnchorsForFrame(frameIndex) {
		if a.TrackID == nil || *a.TrackID != trackID || a.PlayerID != playerID {
			continue
		}
		jersey, team = a.JerseyNumber, a.TeamTag
		break
	}

	m.gal.EnsurePlayer(playerID, playerID)

	det, hasDet := detections[trackID]
	if !hasDet {
		det = model.Detection{FrameIndex: frameIndex}
	}
	det.FrameIndex = frameIndex
	if jersey != "" {
		det.JerseyNumber = jersey
	}
	if team != "" {
		det.TeamTag = team
	}
	_ = m.gal.Update(playerID, det, videoID)
}

func sortDesc(s []scoredCandidate) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Similarity > s[j-1].Similarity; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
