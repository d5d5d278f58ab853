// Package geometry computes bounding-box overlap metrics used by the
// tracker's cost matrix (spec §4.2 step 2).
package geometry

import (
	"math"

	"github.com/fieldlens/reidcore/internal/model"
)

// IoU returns the intersection-over-union of two boxes, in [0, 1].
// Grounded on the teacher's computeIOU (internal/tracking/multi_object_tracker.go),
// generalised from normalized [0,1] coordinates to raw pixel coordinates.
func IoU(a, b model.BBox) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	intersection := (x2 - x1) * (y2 - y1)

	areaA := a.Area()
	areaB := b.Area()
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Expand grows a box symmetrically by margin*extent on each axis, where
// extent is the box's own width/height. A margin of 0.2 grows a box by
// 20% of its size in every direction.
func Expand(b model.BBox, margin float64) model.BBox {
	dw := b.Width() * margin
	dh := b.Height() * margin
	return model.BBox{
		X1: b.X1 - dw,
		Y1: b.Y1 - dh,
		X2: b.X2 + dw,
		Y2: b.Y2 + dh,
	}
}

// ExpansionIoU computes IoU after expanding both boxes by a
// motion-proportional margin, recovering associations under fast motion
// (spec §4.2 step 2). speedFactor scales the base margin by how fast the
// predicted track is moving relative to its own size; a stationary track
// uses the base margin unchanged.
func ExpansionIoU(a, b model.BBox, baseMargin, speedFactor float64) float64 {
	margin := baseMargin * (1 + speedFactor)
	return IoU(Expand(a, margin), Expand(b, margin))
}

// CenterDistance returns the Euclidean distance between box centers, used
// to break max-IoU ties when resolving an anchor with no track hint
// against overlapping detections (spec §9 open question).
func CenterDistance(a, b model.BBox) float64 {
	dx := a.CenterX() - b.CenterX()
	dy := a.CenterY() - b.CenterY()
	return math.Hypot(dx, dy)
}

func max(a, b float64) float64 {
	return math.Max(a, b)
}

func min(a, b float64) float64 {
	return math.Min(a, b)
}
