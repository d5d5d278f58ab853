// Package featurestore implements the Feature Store (spec §4.1): a pure
// function over a decoded frame and the detector's raw boxes that produces
// per-region feature vectors and a quality score, with no cross-frame
// state.
//
// Crop/quality computation is grounded on gocv (the OpenCV binding used for
// frame handling in the norfair-go pack example); the actual embedding
// vectors come from a pluggable Embedder, grounded on the teacher's
// mageagent_client.go HTTP client, reduced to one synchronous JSON POST
// with retry for calling an external model.
package featurestore

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/fieldlens/reidcore/internal/model"
)

// MinCropArea is the degenerate-crop threshold (spec §4.1: "area <
// threshold ... yields None for that region").
const MinCropArea = 64.0 // 8x8 px

// regionRect maps a detection bbox to a sub-region's pixel rectangle within
// the frame, clamped to frame bounds. general widens the full box by 10%
// for scene context; body is the box unchanged; jersey/foot are the top
// 10-40% and bottom 20% bands (spec §4.1).
func regionRect(b model.BBox, region model.FeatureRegion, frameW, frameH int) image.Rectangle {
	var x1, y1, x2, y2 float64
	h := b.Height()
	switch region {
	case model.RegionJersey:
		x1, x2 = b.X1, b.X2
		y1 = b.Y1 + 0.10*h
		y2 = b.Y1 + 0.40*h
	case model.RegionFoot:
		x1, x2 = b.X1, b.X2
		y1 = b.Y2 - 0.20*h
		y2 = b.Y2
	case model.RegionGeneral:
		dw := b.Width() * 0.10
		dh := h * 0.10
		x1, y1, x2, y2 = b.X1-dw, b.Y1-dh, b.X2+dw, b.Y2+dh
	default: // RegionBody
		x1, y1, x2, y2 = b.X1, b.Y1, b.X2, b.Y2
	}

	rect := image.Rect(int(x1), int(y1), int(x2), int(y2))
	return rect.Intersect(image.Rect(0, 0, frameW, frameH))
}

// cropArea returns 0 for a degenerate (empty or inverted) rectangle.
func cropArea(r image.Rectangle) float64 {
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return 0
	}
	return float64(r.Dx() * r.Dy())
}

// sharpness computes the Laplacian-variance sharpness of a crop (spec
// §4.1's quality_score input), a standard focus-measure: a blurry crop has
// low variance in its Laplacian response.
func sharpness(mat gocv.Mat) float64 {
	if mat.Empty() {
		return 0
	}
	gray := gocv.NewMat()
	defer gray.Close()
	if mat.Channels() > 1 {
		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	} else {
		mat.CopyTo(&gray)
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)
	if stddev.Rows() == 0 {
		return 0
	}
	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd
}

// encodeJPEG re-encodes a cropped region for transmission to an external
// embedding model, mirroring the teacher's base64-image payload shape.
func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
