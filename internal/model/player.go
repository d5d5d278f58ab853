package model

import "time"

// FeatureBank is a quality-weighted running mean plus a bounded set of
// diverse exemplar vectors for one feature region (spec §3: "each a
// quality-weighted running mean and a bounded set of exemplar feature
// vectors").
type FeatureBank struct {
	Mean      FeatureVector `json:"mean"`
	Weight    float64       `json:"weight"` // cumulative quality*confidence weight folded into Mean
	Exemplars []Exemplar    `json:"exemplars"`
}

// MaxExemplarsPerRegion bounds the exemplar set per spec §3 ("up to 32 per region").
const MaxExemplarsPerRegion = 32

// Exemplar is a single diverse feature vector kept alongside the running
// mean, with enough metadata to score it for eviction.
type Exemplar struct {
	Vector  FeatureVector `json:"vector"`
	Quality float64       `json:"quality"` // quality_score * detector_confidence at capture
	AddedAt time.Time     `json:"addedAt"`
}

// ReferenceFrame records where and how confidently a player was captured
// (spec §3).
type ReferenceFrame struct {
	ID               string           `json:"id"`
	VideoID          string           `json:"videoId"`
	FrameIndex       uint64           `json:"frameIndex"`
	BBox             BBox             `json:"bbox"`
	SimilarityAtCapture float64       `json:"similarityAtCapture"`
	CaptureConfidence float64         `json:"captureConfidence"`
	UniformSignature UniformSignature `json:"uniformSignature"`
}

// MaxReferenceFramesPerVariant caps reference frames per uniform variant
// (spec §3: "capped at 1000 per uniform variant").
const MaxReferenceFramesPerVariant = 1000

// UniformVariant groups a player's gallery state under one kit.
type UniformVariant struct {
	Signature       UniformSignature          `json:"signature"`
	Banks           map[FeatureRegion]*FeatureBank `json:"banks"`
	ReferenceFrames []ReferenceFrame          `json:"referenceFrames"`
}

// PlayerProfile is the persistent, cross-video identity record owned
// exclusively by the Gallery (spec §3).
type PlayerProfile struct {
	PlayerID     string `json:"playerId"`
	DisplayName  string `json:"displayName"`
	JerseyNumber string `json:"jerseyNumber,omitempty"` // always a string: leading zeros matter
	TeamTag      string `json:"teamTag,omitempty"`

	// Banks is the player's general (not uniform-scoped) feature state,
	// aggregated across all variants. Uniform-scoped state lives in
	// Variants.
	Banks map[FeatureRegion]*FeatureBank `json:"banks"`

	ReferenceFrames []ReferenceFrame           `json:"referenceFrames"`
	Variants        map[string]*UniformVariant `json:"variants"` // keyed by UniformSignature.Key()

	DiversityScore float64 `json:"diversityScore"`

	HardNegatives []Exemplar `json:"hardNegatives"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MaxHardNegatives bounds the hard-negative set; unbounded growth would
// make the per-query penalty scan cost grow without end.
const MaxHardNegatives = 64

// NewPlayerProfile creates an empty profile ready for its first update.
func NewPlayerProfile(playerID, displayName string, now time.Time) *PlayerProfile {
	banks := make(map[FeatureRegion]*FeatureBank, len(AllRegions))
	for _, r := range AllRegions {
		banks[r] = &FeatureBank{}
	}
	return &PlayerProfile{
		PlayerID:    playerID,
		DisplayName: displayName,
		Banks:       banks,
		Variants:    make(map[string]*UniformVariant),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// VariantFor returns (creating if necessary) the uniform variant for the
// given signature.
func (p *PlayerProfile) VariantFor(sig UniformSignature) *UniformVariant {
	key := sig.Key()
	v, ok := p.Variants[key]
	if ok {
		return v
	}
	banks := make(map[FeatureRegion]*FeatureBank, len(AllRegions))
	for _, r := range AllRegions {
		banks[r] = &FeatureBank{}
	}
	v = &UniformVariant{Signature: sig, Banks: banks}
	p.Variants[key] = v
	return v
}

// TotalReferenceFrames sums reference frames across the profile and all
// variants, used by the gallery's diversity score.
func (p *PlayerProfile) TotalReferenceFrames() int {
	n := len(p.ReferenceFrames)
	for _, v := range p.Variants {
		n += len(v.ReferenceFrames)
	}
	return n
}
