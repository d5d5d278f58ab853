package geometry

import (
	"testing"

	"github.com/fieldlens/reidcore/internal/model"
)

func TestIoU_Identical(t *testing.T) {
	b := model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	if got := IoU(b, b); got != 1.0 {
		t.Errorf("IoU of identical boxes = %f, want 1.0", got)
	}
}

func TestIoU_NoOverlap(t *testing.T) {
	a := model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := model.BBox{X1: 100, Y1: 100, X2: 110, Y2: 110}
	if got := IoU(a, b); got != 0 {
		t.Errorf("IoU of disjoint boxes = %f, want 0", got)
	}
}

func TestIoU_PartialOverlap(t *testing.T) {
	a := model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := model.BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	// intersection 5x10=50, union 100+100-50=150
	got := IoU(a, b)
	want := 50.0 / 150.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("IoU = %f, want %f", got, want)
	}
}

func TestExpansionIoU_RecoversFastMotion(t *testing.T) {
	a := model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := model.BBox{X1: 14, Y1: 0, X2: 24, Y2: 10} // just past touching, raw IoU = 0
	if raw := IoU(a, b); raw != 0 {
		t.Fatalf("expected raw IoU 0 as test setup, got %f", raw)
	}
	got := ExpansionIoU(a, b, 0.5, 1.0)
	if got <= 0 {
		t.Errorf("ExpansionIoU = %f, want > 0 once boxes are expanded", got)
	}
}

func TestCenterDistance(t *testing.T) {
	a := model.BBox{X1: 0, Y1: 0, X2: 2, Y2: 2}
	b := model.BBox{X1: 3, Y1: 4, X2: 5, Y2: 6}
	// centers: (1,1) and (4,5) -> distance 5
	if got := CenterDistance(a, b); got != 5 {
		t.Errorf("CenterDistance = %f, want 5", got)
	}
}
