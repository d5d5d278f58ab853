package kalman

import "testing"

func TestBoxFilter_PredictUnchangedWithoutMotion(t *testing.T) {
	kf := NewBoxFilter(100, 100, 20, 40, DefaultParams())
	cx, cy, w, h := kf.Predict()
	if cx != 100 || cy != 100 || w != 20 || h != 40 {
		t.Errorf("Predict() with zero velocity = (%f,%f,%f,%f), want (100,100,20,40)", cx, cy, w, h)
	}
}

func TestBoxFilter_UpdateConverges(t *testing.T) {
	kf := NewBoxFilter(0, 0, 10, 10, DefaultParams())
	for i := 0; i < 20; i++ {
		kf.Predict()
		kf.Update(50, 50, 10, 10)
	}
	cx, cy, _, _ := kf.State()
	if diff := cx - 50; diff > 1 || diff < -1 {
		t.Errorf("center x after repeated updates = %f, want close to 50", cx)
	}
	if diff := cy - 50; diff > 1 || diff < -1 {
		t.Errorf("center y after repeated updates = %f, want close to 50", cy)
	}
}

func TestBoxFilter_ResetVelocityPreservesPosition(t *testing.T) {
	kf := NewBoxFilter(10, 10, 5, 5, DefaultParams())
	kf.Predict()
	kf.Update(20, 20, 5, 5)
	kf.ResetVelocity()
	cx, cy, _, _, vcx, vcy, _, _ := kf.State()
	if vcx != 0 || vcy != 0 {
		t.Errorf("velocity after reset = (%f,%f), want (0,0)", vcx, vcy)
	}
	if cx == 0 && cy == 0 {
		t.Errorf("position should be preserved across ResetVelocity, got (%f,%f)", cx, cy)
	}
}

func TestBoxFilter_CovarianceExploded(t *testing.T) {
	kf := NewBoxFilter(0, 0, 10, 10, DefaultParams())
	if kf.CovarianceExploded(1e6) {
		t.Fatal("fresh filter should not report exploded covariance")
	}
	kf.P.Set(4, 4, 1e12)
	if !kf.CovarianceExploded(1e6) {
		t.Error("filter with huge covariance entry should report exploded")
	}
}
