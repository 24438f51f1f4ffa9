package postprocess

import (
	"math"
	"testing"

	pp "github.com/swdee/go-posepuppet"
)

// scaleMapper halves model coordinates
type scaleMapper struct{}

func (scaleMapper) ToSource(x, y float64) (float64, float64) {
	return x / 2, y / 2
}

// buildOutput lays out candidates in channel major order
func buildOutput(channels int, cands [][]float32) []float32 {

	anchors := len(cands)
	data := make([]float32, channels*anchors)

	for a, c := range cands {
		for ch, v := range c {
			data[ch*anchors+a] = v
		}
	}

	return data
}

// candidate returns a model output column for a person box with all
// keypoints at the box centre
func candidate(cx, cy, w, h, score float32) []float32 {

	col := []float32{cx, cy, w, h, score}

	for j := 0; j < pp.PartsTotal; j++ {
		col = append(col, cx, cy, 0.8)
	}

	return col
}

func TestYOLOv8PoseDecode(t *testing.T) {

	y := NewYOLOv8Pose(YOLOv8PoseCOCOParams())

	if y.Channels() != 56 {
		t.Fatalf("expected 56 channels, got %d", y.Channels())
	}

	data := buildOutput(y.Channels(), [][]float32{
		candidate(100, 100, 50, 150, 0.6),
		candidate(102, 101, 50, 150, 0.9), // duplicate of the first
		candidate(400, 100, 50, 150, 0.7),
		candidate(300, 300, 50, 150, 0.2), // below threshold
	})

	poses, err := y.Decode(data, 4, scaleMapper{})

	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(poses) != 2 {
		t.Fatalf("expected 2 poses, got %d", len(poses))
	}

	if math.Abs(poses[0].Score-0.9) > 1e-6 || math.Abs(poses[1].Score-0.7) > 1e-6 {
		t.Errorf("unexpected scores %f, %f", poses[0].Score, poses[1].Score)
	}

	nose, ok := poses[0].Get(pp.Nose)

	if !ok || nose.X != 51 || math.Abs(nose.Y-50.5) > 1e-6 {
		t.Errorf("unexpected nose %+v", nose)
	}

	if len(poses[1].Keypoints) != pp.PartsTotal {
		t.Errorf("expected %d keypoints, got %d", pp.PartsTotal, len(poses[1].Keypoints))
	}

	if poses[0].ID != 0 {
		t.Error("decoder must not assign identities")
	}
}

func TestYOLOv8PoseDecodeEmpty(t *testing.T) {

	y := NewYOLOv8Pose(YOLOv8PoseCOCOParams())

	data := buildOutput(y.Channels(), [][]float32{candidate(1, 1, 1, 1, 0.1)})

	poses, err := y.Decode(data, 1, nil)

	if err != nil || poses == nil || len(poses) != 0 {
		t.Errorf("expected empty non nil result, got %v, %v", poses, err)
	}

	if _, err := y.Decode(data[:10], 1, nil); err == nil {
		t.Error("expected error for short output")
	}
}

func TestNMS(t *testing.T) {

	boxes := []box{
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.9},
		{x1: 1, y1: 1, x2: 11, y2: 11, score: 0.8},
		{x1: 50, y1: 50, x2: 60, y2: 60, score: 0.7},
	}

	kept := nms(boxes, 0.45, 0)

	if len(kept) != 2 || kept[1].score != 0.7 {
		t.Errorf("unexpected nms result %v", kept)
	}

	if kept := nms(boxes, 0.45, 1); len(kept) != 1 {
		t.Errorf("expected limit of 1, got %d", len(kept))
	}

	if v := sigmoid(0); v != 0.5 {
		t.Errorf("sigmoid(0) = %f", v)
	}
}
