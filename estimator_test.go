package posepuppet

import (
	"testing"
)

// personAt returns a pose with its nose and hips at x
func personAt(score, x float64) Pose {
	return NewPose(0, score,
		Keypoint{Part: Nose, X: x, Y: 50, Score: 0.9},
		Keypoint{Part: LeftHip, X: x - 10, Y: 200, Score: 0.9},
		Keypoint{Part: RightHip, X: x + 10, Y: 200, Score: 0.9},
	)
}

func TestParseDecoding(t *testing.T) {

	for in, want := range map[string]Decoding{
		"":              MultiPerson,
		"multi-person":  MultiPerson,
		"single":        SinglePerson,
		"Single-Person": SinglePerson,
	} {
		got, err := ParseDecoding(in)

		if err != nil || got != want {
			t.Errorf("ParseDecoding(%q) = %v, %v want %v", in, got, err, want)
		}
	}

	if _, err := ParseDecoding("crowd"); err == nil {
		t.Error("expected error for unknown decoding")
	}
}

func TestApplyOptionsThresholdAndOrder(t *testing.T) {

	opts := DefaultEstimateOptions()
	opts.NMSRadius = 0

	out := ApplyOptions([]Pose{
		personAt(0.6, 100),
		personAt(0.3, 200),
		personAt(0.9, 300),
	}, opts, 640)

	if len(out) != 2 {
		t.Fatalf("expected 2 poses above threshold, got %d", len(out))
	}

	if out[0].Score != 0.9 || out[1].Score != 0.6 {
		t.Errorf("expected descending scores, got %f,%f", out[0].Score, out[1].Score)
	}
}

func TestApplyOptionsRadiusSuppression(t *testing.T) {

	opts := DefaultEstimateOptions()

	out := ApplyOptions([]Pose{
		personAt(0.7, 105),
		personAt(0.9, 100),
		personAt(0.8, 400),
	}, opts, 640)

	if len(out) != 2 {
		t.Fatalf("expected duplicate to be suppressed, got %d poses", len(out))
	}

	if out[0].Score != 0.9 || out[1].Score != 0.8 {
		t.Errorf("wrong poses kept: %f,%f", out[0].Score, out[1].Score)
	}
}

func TestApplyOptionsLimits(t *testing.T) {

	poses := []Pose{
		personAt(0.9, 100),
		personAt(0.8, 300),
		personAt(0.7, 500),
	}

	opts := DefaultEstimateOptions()
	opts.MaxDetections = 2

	if out := ApplyOptions(poses, opts, 640); len(out) != 2 {
		t.Errorf("expected max 2 detections, got %d", len(out))
	}

	opts.Decoding = SinglePerson

	out := ApplyOptions(poses, opts, 640)

	if len(out) != 1 || out[0].Score != 0.9 {
		t.Errorf("single person decoding should return best pose, got %v", out)
	}
}

func TestApplyOptionsFlip(t *testing.T) {

	opts := DefaultEstimateOptions()
	opts.FlipHorizontal = true

	out := ApplyOptions([]Pose{personAt(0.9, 100)}, opts, 640)

	nose, _ := out[0].Get(Nose)

	if nose.X != 539 {
		t.Errorf("expected flipped nose at 539, got %f", nose.X)
	}

	rh, ok := out[0].Get(RightHip)

	if !ok || rh.X != 549 {
		t.Errorf("expected left hip mirrored to right hip at 549, got %+v", rh)
	}
}

func TestSortByScoreStableOnTies(t *testing.T) {

	poses := []Pose{
		NewPose(1, 0.6), NewPose(2, 0.9), NewPose(3, 0.6), NewPose(4, 0.7), NewPose(5, 0.6),
	}

	sortByScore(poses)

	want := []int64{2, 4, 1, 3, 5}

	for i, id := range want {
		if poses[i].ID != id {
			t.Fatalf("position %d: expected ID %d, got %d", i, id, poses[i].ID)
		}
	}
}
