// Package kalman implements a constant-velocity bounding-box Kalman
// filter for the tracker's per-track motion model (spec §3, §4.2 step 1).
//
// Adapted from nmichlo-norfair-go's internal/filterpy/kalman.go (a generic
// point-filter port of filterpy.kalman.KalmanFilter) and specialised to a
// fixed 8-dimensional state: center x/y, width, height, and their
// velocities. Detections only measure the 4 position components; the
// velocity components are inferred by the filter.
package kalman

import "gonum.org/v1/gonum/mat"

const (
	dimX = 8 // cx, cy, w, h, vcx, vcy, vw, vh
	dimZ = 4 // cx, cy, w, h
)

// BoxFilter is a constant-velocity Kalman filter over a bounding box's
// center/size state.
type BoxFilter struct {
	x *mat.Dense // state (dimX, 1)
	P *mat.Dense // covariance (dimX, dimX)
	F *mat.Dense // state transition (dimX, dimX)
	H *mat.Dense // measurement matrix (dimZ, dimX)
	R *mat.Dense // measurement noise (dimZ, dimZ)
	Q *mat.Dense // process noise (dimX, dimX)
}

// Params configures the filter's noise characteristics. Grounded on
// norfair-go's OptimizedKalmanFilterFactory parameters (R_mult, Q_mult,
// pos_var, pos_vel_cov, vel_var).
type Params struct {
	RMult     float64 // measurement noise multiplier
	QMult     float64 // process noise multiplier
	PosVar    float64 // initial position variance
	VelVar    float64 // initial velocity variance
}

// DefaultParams mirrors norfair-go's defaults (1.0, 1.0, 10.0, 1.0).
func DefaultParams() Params {
	return Params{RMult: 1.0, QMult: 1.0, PosVar: 10.0, VelVar: 1.0}
}

// NewBoxFilter creates a filter initialised at the given center/size,
// with zero initial velocity.
func NewBoxFilter(cx, cy, w, h float64, p Params) *BoxFilter {
	kf := &BoxFilter{
		x: mat.NewDense(dimX, 1, nil),
		P: mat.NewDense(dimX, dimX, nil),
		F: mat.NewDense(dimX, dimX, nil),
		H: mat.NewDense(dimZ, dimX, nil),
		R: mat.NewDense(dimZ, dimZ, nil),
		Q: mat.NewDense(dimX, dimX, nil),
	}

	kf.x.Set(0, 0, cx)
	kf.x.Set(1, 0, cy)
	kf.x.Set(2, 0, w)
	kf.x.Set(3, 0, h)

	// F: constant-velocity transition, dt folded into SetDT.
	for i := 0; i < dimX; i++ {
		kf.F.Set(i, i, 1.0)
	}
	for i := 0; i < 4; i++ {
		kf.F.Set(i, i+4, 1.0) // position += velocity * dt (dt=1 default)
	}

	// H: measure the first four (position) components directly.
	for i := 0; i < dimZ; i++ {
		kf.H.Set(i, i, 1.0)
	}

	for i := 0; i < dimZ; i++ {
		kf.R.Set(i, i, p.RMult)
	}
	for i := 0; i < 4; i++ {
		kf.P.Set(i, i, p.PosVar)
		kf.P.Set(i+4, i+4, p.VelVar)
		kf.Q.Set(i, i, p.QMult*0.1)
		kf.Q.Set(i+4, i+4, p.QMult)
	}

	return kf
}

// SetDT rewrites the transition matrix for a time step other than 1. The
// tracker does not call it: it predicts every filter one frame at a time.
func (kf *BoxFilter) SetDT(dt float64) {
	for i := 0; i < 4; i++ {
		kf.F.Set(i, i+4, dt)
	}
}

// Predict advances the state one step and returns the predicted box
// (cx, cy, w, h).
func (kf *BoxFilter) Predict() (cx, cy, w, h float64) {
	var xPrior mat.Dense
	xPrior.Mul(kf.F, kf.x)
	kf.x.Copy(&xPrior)

	var temp, pPrior mat.Dense
	temp.Mul(kf.F, kf.P)
	pPrior.Mul(&temp, kf.F.T())
	kf.P.Add(&pPrior, kf.Q)

	return kf.x.At(0, 0), kf.x.At(1, 0), kf.x.At(2, 0), kf.x.At(3, 0)
}

// Update incorporates an observed box into the state estimate.
func (kf *BoxFilter) Update(cx, cy, w, h float64) {
	z := mat.NewDense(dimZ, 1, []float64{cx, cy, w, h})

	var hx mat.Dense
	hx.Mul(kf.H, kf.x)
	var y mat.Dense
	y.Sub(z, &hx)

	var temp1, s mat.Dense
	temp1.Mul(kf.H, kf.P)
	s.Mul(&temp1, kf.H.T())
	s.Add(&s, kf.R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// Singular innovation covariance: skip this update rather than
		// propagate NaNs into the state (spec §4.2 failure modes).
		return
	}

	var temp2, k mat.Dense
	temp2.Mul(kf.P, kf.H.T())
	k.Mul(&temp2, &sInv)

	var kY mat.Dense
	kY.Mul(&k, &y)
	kf.x.Add(kf.x, &kY)

	identity := mat.NewDense(dimX, dimX, nil)
	for i := 0; i < dimX; i++ {
		identity.Set(i, i, 1.0)
	}
	var kH, iMinusKH, newP mat.Dense
	kH.Mul(&k, kf.H)
	iMinusKH.Sub(identity, &kH)
	newP.Mul(&iMinusKH, kf.P)
	kf.P.Copy(&newP)
}

// State returns the current center/size/velocity state.
func (kf *BoxFilter) State() (cx, cy, w, h, vcx, vcy, vw, vh float64) {
	return kf.x.At(0, 0), kf.x.At(1, 0), kf.x.At(2, 0), kf.x.At(3, 0),
		kf.x.At(4, 0), kf.x.At(5, 0), kf.x.At(6, 0), kf.x.At(7, 0)
}

// Speed returns the magnitude of the center velocity, used by the
// tracker to scale the expansion-IoU margin under fast motion.
func (kf *BoxFilter) Speed() float64 {
	vcx, vcy := kf.x.At(4, 0), kf.x.At(5, 0)
	return mat.Norm(mat.NewVecDense(2, []float64{vcx, vcy}), 2)
}

// ResetVelocity zeroes the velocity components while preserving position,
// the tracker's recovery path when covariance explodes (spec §4.2 failure
// modes: "reset the track's velocity to zero, preserving position").
func (kf *BoxFilter) ResetVelocity() {
	for i := 4; i < dimX; i++ {
		kf.x.Set(i, 0, 0)
		for j := 0; j < dimX; j++ {
			kf.P.Set(i, j, 0)
			kf.P.Set(j, i, 0)
		}
		kf.P.Set(i, i, DefaultParams().VelVar)
	}
}

// CovarianceExploded reports whether any diagonal covariance entry has
// grown beyond a sane bound, the numeric-issue trigger spec §4.2 names.
func (kf *BoxFilter) CovarianceExploded(bound float64) bool {
	for i := 0; i < dimX; i++ {
		v := kf.P.At(i, i)
		if v > bound || v != v { // v != v catches NaN
			return true
		}
	}
	return false
}
