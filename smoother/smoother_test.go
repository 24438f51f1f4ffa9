package smoother

import (
	"math"
	"math/rand"
	"testing"

	pp "github.com/swdee/go-posepuppet"
)

// almostEqual checks if two float64 values are approximately equal
func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func eyes(id int64, lx, ly, rx, ry, score float64) pp.Pose {
	return pp.NewPose(id, score,
		pp.Keypoint{Part: pp.LeftEye, X: lx, Y: ly, Score: score},
		pp.Keypoint{Part: pp.RightEye, X: rx, Y: ry, Score: score},
	)
}

func TestExponentialFirstSamplePassesThrough(t *testing.T) {

	for _, factor := range []float64{0, 0.6, 0.8, 0.99} {
		f, err := NewExponential(factor)

		if err != nil {
			t.Fatalf("factor %v: %v", factor, err)
		}

		raw := eyes(1, 90, 100, 110, 100, 0.9)
		got := f.Update(nil, raw)

		for part, kp := range raw.Keypoints {
			if got.Keypoints[part] != kp {
				t.Errorf("factor %v: expected %+v, got %+v", factor, kp,
					got.Keypoints[part])
			}
		}
	}
}

func TestExponentialFactorRange(t *testing.T) {

	tests := []struct {
		factor float64
		ok     bool
	}{
		{0, true},
		{0.6, true},
		{0.8, true},
		{1, false},
		{-0.1, false},
	}

	for _, tc := range tests {
		_, err := NewExponential(tc.factor)

		if (err == nil) != tc.ok {
			t.Errorf("factor %v: expected ok=%v, got err=%v", tc.factor, tc.ok, err)
		}
	}
}

func TestExponentialBlend(t *testing.T) {

	f, _ := NewExponential(0.8)

	prev := eyes(1, 100, 100, 140, 100, 0.9)
	raw := eyes(1, 110, 90, 140, 100, 0.7)

	got := f.Update(&prev, raw)
	le := got.Keypoints[pp.LeftEye]

	if !almostEqual(le.X, 102, 1e-9) || !almostEqual(le.Y, 98, 1e-9) {
		t.Errorf("expected (102,98), got (%v,%v)", le.X, le.Y)
	}

	if le.Score != 0.7 {
		t.Errorf("expected score of latest sample 0.7, got %v", le.Score)
	}

	// previous state must not be mutated
	if prev.Keypoints[pp.LeftEye].X != 100 {
		t.Errorf("previous pose was modified")
	}
}

// TestExponentialConvexRange checks the smoothed trajectory never leaves the
// range of the raw samples seen so far
func TestExponentialConvexRange(t *testing.T) {

	rng := rand.New(rand.NewSource(42))

	for _, factor := range []float64{0, 0.3, 0.6, 0.8, 0.95} {
		store := NewStore(&Exponential{Factor: factor})

		minX, maxX := math.Inf(1), math.Inf(-1)

		for i := 0; i < 500; i++ {
			x := rng.Float64()*640 - 50
			minX = math.Min(minX, x)
			maxX = math.Max(maxX, x)

			got := store.Smooth(eyes(7, x, 0, x, 0, 0.9))
			sx := got.Keypoints[pp.LeftEye].X

			if sx < minX-1e-9 || sx > maxX+1e-9 {
				t.Fatalf("factor %v step %d: smoothed %v outside raw range [%v,%v]",
					factor, i, sx, minX, maxX)
			}
		}
	}
}

// TestExponentialConvergence feeds identical frames at 30 detections/sec and
// checks geometric convergence of the filter
func TestExponentialConvergence(t *testing.T) {

	store := NewStore(&Exponential{Factor: 0.8})

	// identical stream converges immediately as the first sample initialises
	for i := 0; i < 10; i++ {
		store.Smooth(eyes(1, 90, 100, 110, 100, 0.9))
	}

	got, _ := store.Get(1)

	if got.Keypoints[pp.LeftEye].X != 90 || got.Keypoints[pp.RightEye].X != 110 {
		t.Errorf("identical stream did not hold value: %+v", got.Keypoints)
	}

	// a step of under 10% from the initial state is within 1% after 10 frames
	store.Reset()
	store.Smooth(eyes(1, 82, 100, 100, 100, 0.9))

	for i := 0; i < 10; i++ {
		got = store.Smooth(eyes(1, 90, 100, 110, 100, 0.9))
	}

	le := got.Keypoints[pp.LeftEye].X
	re := got.Keypoints[pp.RightEye].X

	if math.Abs(le-90)/90 > 0.01 || math.Abs(re-110)/110 > 0.01 {
		t.Errorf("not converged within 1%%: left=%v right=%v", le, re)
	}

	// remaining gap is exactly 0.8^10 of the initial gap
	if !almostEqual(90-le, 8*math.Pow(0.8, 10), 1e-9) {
		t.Errorf("unexpected gap %v", 90-le)
	}
}

func TestExponentialGate(t *testing.T) {

	prev := eyes(1, 100, 100, 140, 100, 0.9)
	raw := eyes(1, 200, 200, 240, 200, 0.3)

	// ungated updates even below threshold
	ungated := &Exponential{Factor: 0.5}
	got := ungated.Update(&prev, raw)

	if got.Keypoints[pp.LeftEye].X != 150 {
		t.Errorf("ungated expected 150, got %v", got.Keypoints[pp.LeftEye].X)
	}

	gated := &Exponential{Factor: 0.5, GateBelow: 0.5}
	got = gated.Update(&prev, raw)

	if got.Keypoints[pp.LeftEye].X != 100 {
		t.Errorf("gated expected held 100, got %v", got.Keypoints[pp.LeftEye].X)
	}

	if got.Keypoints[pp.LeftEye].Score != 0.3 {
		t.Errorf("gated keypoint should report latest score")
	}
}

func TestStoreDrop(t *testing.T) {

	store := NewStore(&Exponential{Factor: 0.8})

	store.Smooth(eyes(1, 10, 10, 20, 10, 0.9))
	store.Smooth(eyes(2, 50, 50, 60, 50, 0.9))

	if store.Len() != 2 {
		t.Fatalf("expected 2 identities, got %d", store.Len())
	}

	store.Drop(1)

	if _, ok := store.Get(1); ok {
		t.Errorf("identity 1 should have been dropped")
	}

	// identity 2 state carried forward
	got := store.Smooth(eyes(2, 60, 50, 70, 50, 0.9))

	if !almostEqual(got.Keypoints[pp.LeftEye].X, 52, 1e-9) {
		t.Errorf("expected smoothed 52, got %v", got.Keypoints[pp.LeftEye].X)
	}

	// identity 1 restarts from raw
	got = store.Smooth(eyes(1, 300, 10, 320, 10, 0.9))

	if got.Keypoints[pp.LeftEye].X != 300 {
		t.Errorf("expected restart at 300, got %v", got.Keypoints[pp.LeftEye].X)
	}
}

func TestKalmanSmoother(t *testing.T) {

	k, err := NewKalman(DefaultKalmanParams())

	if err != nil {
		t.Fatalf("NewKalman: %v", err)
	}

	store := NewStore(k)

	first := store.Smooth(eyes(3, 100, 100, 140, 100, 0.9))

	if first.Keypoints[pp.LeftEye].X != 100 {
		t.Fatalf("first sample should pass through, got %v",
			first.Keypoints[pp.LeftEye].X)
	}

	var got pp.Pose

	for i := 0; i < 60; i++ {
		got = store.Smooth(eyes(3, 120, 100, 160, 100, 0.9))
	}

	if !almostEqual(got.Keypoints[pp.LeftEye].X, 120, 1.0) {
		t.Errorf("expected convergence to 120, got %v", got.Keypoints[pp.LeftEye].X)
	}

	if _, _, ok := k.Velocity(3, pp.LeftEye); !ok {
		t.Errorf("expected velocity state for tracked keypoint")
	}

	store.Drop(3)

	if _, _, ok := k.Velocity(3, pp.LeftEye); ok {
		t.Errorf("expected filter state dropped with identity")
	}
}

func TestKalmanParams(t *testing.T) {

	if _, err := NewKalman(KalmanParams{}); err == nil {
		t.Errorf("expected error for zero noise parameters")
	}
}
