package tracker

import (
	"math"
	"testing"

	pp "github.com/swdee/go-posepuppet"
)

// boxPose returns a pose whose accepted keypoints span the given box
func boxPose(id int64, x1, y1, x2, y2 float64) pp.Pose {
	return pp.NewPose(id, 0.9,
		pp.Keypoint{Part: pp.Nose, X: x1, Y: y1, Score: 0.9},
		pp.Keypoint{Part: pp.LeftAnkle, X: x2, Y: y2, Score: 0.9},
	)
}

func TestCalcIoU(t *testing.T) {

	a := NewRect(0, 0, 9, 9)

	if iou := a.CalcIoU(a); math.Abs(iou-1) > 1e-9 {
		t.Errorf("identical rects IoU = %f, want 1", iou)
	}

	b := NewRect(100, 100, 9, 9)

	if iou := a.CalcIoU(b); iou != 0 {
		t.Errorf("disjoint rects IoU = %f, want 0", iou)
	}

	// half overlap on x, 10x10 inclusive boxes
	c := NewRect(5, 0, 9, 9)
	want := 50.0 / 150.0

	if iou := a.CalcIoU(c); math.Abs(iou-want) > 1e-9 {
		t.Errorf("half overlap IoU = %f, want %f", iou, want)
	}
}

func TestRectFromPose(t *testing.T) {

	p := boxPose(0, 10, 20, 50, 120)

	r, ok := RectFromPose(p, 0.5)

	if !ok {
		t.Fatal("expected rect from pose with two keypoints")
	}

	if r.X != 10 || r.Y != 20 || r.BRX() != 50 || r.BRY() != 120 {
		t.Errorf("unexpected rect %+v", r)
	}

	if _, ok := RectFromPose(p, 0.95); ok {
		t.Error("expected no rect when keypoints are below threshold")
	}
}

func TestTrackerStableIDs(t *testing.T) {

	tr := NewTracker(DefaultParams())

	first := tr.Assign([]pp.Pose{
		boxPose(0, 10, 10, 100, 300),
		boxPose(0, 400, 10, 500, 300),
	})

	if first[0].ID != 1 || first[1].ID != 2 {
		t.Fatalf("expected IDs 1,2 got %d,%d", first[0].ID, first[1].ID)
	}

	// same people moved slightly and listed in reverse order
	second := tr.Assign([]pp.Pose{
		boxPose(0, 405, 12, 505, 302),
		boxPose(0, 12, 8, 102, 298),
	})

	if second[0].ID != 2 || second[1].ID != 1 {
		t.Errorf("expected IDs 2,1 got %d,%d", second[0].ID, second[1].ID)
	}

	// a third person appears far from both
	third := tr.Assign([]pp.Pose{
		boxPose(0, 12, 8, 102, 298),
		boxPose(0, 405, 12, 505, 302),
		boxPose(0, 800, 10, 900, 300),
	})

	if third[2].ID != 3 {
		t.Errorf("expected new ID 3 got %d", third[2].ID)
	}
}

func TestTrackerKeepsEstimatorIDs(t *testing.T) {

	tr := NewTracker(DefaultParams())

	out := tr.Assign([]pp.Pose{boxPose(7, 10, 10, 100, 300)})

	if out[0].ID != 7 {
		t.Fatalf("expected estimator ID 7 kept, got %d", out[0].ID)
	}

	// an unlabelled pose on top of the labelled one must not steal its ID
	out = tr.Assign([]pp.Pose{
		boxPose(7, 10, 10, 100, 300),
		boxPose(0, 10, 10, 100, 300),
	})

	if out[0].ID != 7 {
		t.Errorf("expected estimator ID 7 kept, got %d", out[0].ID)
	}

	if out[1].ID == 7 || out[1].ID == 0 {
		t.Errorf("expected a fresh ID for the unlabelled pose, got %d", out[1].ID)
	}
}

func TestTrackerTrackBuffer(t *testing.T) {

	p := DefaultParams()
	p.TrackBuffer = 2
	tr := NewTracker(p)

	tr.Assign([]pp.Pose{boxPose(0, 10, 10, 100, 300)})

	// person missing for two cycles is still matched on return
	tr.Assign(nil)
	tr.Assign(nil)

	out := tr.Assign([]pp.Pose{boxPose(0, 10, 10, 100, 300)})

	if out[0].ID != 1 {
		t.Errorf("expected ID 1 within track buffer, got %d", out[0].ID)
	}

	// missing for three cycles is forgotten
	tr.Assign(nil)
	tr.Assign(nil)
	tr.Assign(nil)

	if tr.Len() != 0 {
		t.Fatalf("expected no tracks, got %d", tr.Len())
	}

	out = tr.Assign([]pp.Pose{boxPose(0, 10, 10, 100, 300)})

	if out[0].ID != 2 {
		t.Errorf("expected new ID 2 after track expired, got %d", out[0].ID)
	}
}

func TestTrackerReset(t *testing.T) {

	tr := NewTracker(DefaultParams())
	tr.Assign([]pp.Pose{boxPose(0, 10, 10, 100, 300)})
	tr.Reset()

	out := tr.Assign([]pp.Pose{boxPose(0, 400, 10, 500, 300)})

	if out[0].ID != 1 {
		t.Errorf("expected numbering to restart at 1, got %d", out[0].ID)
	}
}

func TestTrail(t *testing.T) {

	tr := NewTrail(3)

	for i := 0; i < 5; i++ {
		tr.Add(1, float64(i), float64(i*2))
	}

	pts := tr.GetPoints(1)

	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}

	if pts[0] != (Point{X: 2, Y: 4}) || pts[2] != (Point{X: 4, Y: 8}) {
		t.Errorf("unexpected trail %v", pts)
	}

	tr.Drop(1)

	if pts := tr.GetPoints(1); pts != nil {
		t.Errorf("expected no history after drop, got %v", pts)
	}
}

func TestTrackerSkipsEstimatorIDs(t *testing.T) {

	tr := NewTracker(DefaultParams())

	// the estimator labels one person 1 and leaves the other unlabelled
	out := tr.Assign([]pp.Pose{
		boxPose(0, 400, 10, 500, 300),
		boxPose(1, 10, 10, 100, 300),
	})

	if out[1].ID != 1 {
		t.Fatalf("expected estimator ID 1 kept, got %d", out[1].ID)
	}

	if out[0].ID == 1 || out[0].ID == 0 {
		t.Fatalf("unlabelled pose shares estimator ID, got %d", out[0].ID)
	}

	// later unlabelled people never reuse an ID seen from the estimator
	tr.Assign([]pp.Pose{boxPose(9, 10, 10, 100, 300)})
	out = tr.Assign([]pp.Pose{boxPose(0, 800, 10, 900, 300)})

	if out[0].ID <= 9 {
		t.Errorf("expected a generated ID above 9, got %d", out[0].ID)
	}
}
