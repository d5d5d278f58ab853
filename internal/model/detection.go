// Package model holds the flat, id-keyed data types shared across the
// tracking, gallery, anchor, protection, matcher and conflict packages.
// Every cross-component reference is by id (PlayerID, TrackID), never by
// pointer, so that the Gallery's in-memory state can be snapshotted for
// persistence without chasing an object graph.
package model

import "strconv"

// BBox is an axis-aligned bounding box in image pixels.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels. Degenerate boxes (zero or
// negative extent) return 0.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// CenterX returns the box's horizontal center.
func (b BBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// CenterY returns the box's vertical center.
func (b BBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// FeatureRegion names one of the feature-store's sub-crops and the
// gallery's feature banks.
type FeatureRegion string

const (
	RegionBody   FeatureRegion = "body"
	RegionJersey FeatureRegion = "jersey"
	RegionFoot   FeatureRegion = "foot"
	RegionGeneral FeatureRegion = "general"
)

// AllRegions lists every region in a stable order, used wherever a
// deterministic iteration over regions is required (ensembles, pruning).
var AllRegions = []FeatureRegion{RegionBody, RegionJersey, RegionFoot, RegionGeneral}

// UniformSignature is a discrete (jersey, shorts, socks) colour-bin triple
// used to group a player's gallery features by kit.
type UniformSignature struct {
	JerseyBin int `json:"jerseyBin"`
	ShortsBin int `json:"shortsBin"`
	SocksBin  int `json:"socksBin"`
}

// Key returns a stable map key for this signature.
func (u UniformSignature) Key() string {
	return strconv.Itoa(u.JerseyBin) + ":" + strconv.Itoa(u.ShortsBin) + ":" + strconv.Itoa(u.SocksBin)
}

// Detection is an ephemeral, per-frame observation produced by the
// Feature Store (spec §4.1). It never outlives the frame it was built for;
// Tracks copy the fields they need into their ring buffer.
type Detection struct {
	FrameIndex         uint64                         `json:"frameIndex"`
	BBox               BBox                           `json:"bbox"`
	DetectorConfidence float64                         `json:"detectorConfidence"`
	Features           map[FeatureRegion][]float32     `json:"-"`
	QualityScore       float64                         `json:"qualityScore"`
	UniformSignature   *UniformSignature               `json:"uniformSignature,omitempty"`
	JerseyNumber       string                           `json:"jerseyNumber,omitempty"`
	JerseyOCRConf      float64                          `json:"jerseyOcrConfidence,omitempty"`
	TeamTag            string                           `json:"teamTag,omitempty"`
}

// HasRegion reports whether the detection carries a usable (non-nil,
// non-degenerate) feature vector for the given region.
func (d *Detection) HasRegion(r FeatureRegion) bool {
	v, ok := d.Features[r]
	return ok && len(v) > 0
}

// RegionCount returns how many of the four regions have usable features.
func (d *Detection) RegionCount() int {
	n := 0
	for _, r := range AllRegions {
		if d.HasRegion(r) {
			n++
		}
	}
	return n
}
