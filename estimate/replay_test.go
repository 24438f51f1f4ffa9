package estimate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	pp "github.com/swdee/go-posepuppet"
	"gocv.io/x/gocv"
)

func recording(loop bool) Recording {
	return Recording{
		Loop: loop,
		Frames: []RecordedFrame{
			{Poses: []RecordedPose{{
				ID:    3,
				Score: 0.9,
				Keypoints: []RecordedKeypoint{
					{Part: "nose", X: 2, Y: 1, Score: 0.9},
					{Part: "left_wrist", X: 1, Y: 3, Score: 0.8},
				},
			}}},
			{Poses: []RecordedPose{
				{Score: 0.8, Keypoints: []RecordedKeypoint{{Part: "nose", X: 5, Y: 1, Score: 0.8}}},
				{Score: 0.2, Keypoints: []RecordedKeypoint{{Part: "nose", X: 7, Y: 1, Score: 0.2}}},
			}},
		},
	}
}

func replayOptions() pp.EstimateOptions {
	opts := pp.DefaultEstimateOptions()
	opts.NMSRadius = 0
	return opts
}

func TestReplaySequence(t *testing.T) {

	r, err := NewReplay(recording(false))

	if err != nil {
		t.Fatal(err)
	}

	if r.Len() != 2 {
		t.Fatalf("expected 2 frames, got %d", r.Len())
	}

	frame := gocv.NewMatWithSize(4, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()

	ctx := context.Background()

	poses, err := r.Estimate(ctx, frame, replayOptions())

	if err != nil {
		t.Fatal(err)
	}

	if len(poses) != 1 || poses[0].ID != 3 {
		t.Fatalf("unexpected first frame %+v", poses)
	}

	if kp, ok := poses[0].Get(pp.LeftWrist); !ok || kp.X != 1 || kp.Y != 3 {
		t.Errorf("unexpected left wrist %+v", kp)
	}

	// low scoring pose is filtered by the options
	poses, _ = r.Estimate(ctx, frame, replayOptions())

	if len(poses) != 1 {
		t.Fatalf("expected 1 pose above threshold, got %d", len(poses))
	}

	poses, err = r.Estimate(ctx, frame, replayOptions())

	if err != nil || poses == nil || len(poses) != 0 {
		t.Errorf("expected empty result once exhausted, got %v %v", poses, err)
	}
}

func TestReplayLoopAndFlip(t *testing.T) {

	r, err := NewReplay(recording(true))

	if err != nil {
		t.Fatal(err)
	}

	frame := gocv.NewMatWithSize(4, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()

	opts := replayOptions()
	opts.FlipHorizontal = true

	ctx := context.Background()

	r.Estimate(ctx, frame, opts)
	r.Estimate(ctx, frame, opts)

	poses, err := r.Estimate(ctx, frame, opts)

	if err != nil || len(poses) != 1 || poses[0].ID != 3 {
		t.Fatalf("expected first frame again, got %v %v", poses, err)
	}

	// 8 pixel wide frame mirrors x=2 to x=5 and swaps sides
	if kp, ok := poses[0].Get(pp.Nose); !ok || kp.X != 5 {
		t.Errorf("expected flipped nose at 5, got %+v", kp)
	}

	if kp, ok := poses[0].Get(pp.RightWrist); !ok || kp.X != 6 {
		t.Errorf("expected left wrist flipped to right wrist at 6, got %+v", kp)
	}

	// recorded poses are not modified by flipping
	again, _ := NewReplay(recording(false))
	first, _ := again.Estimate(ctx, frame, replayOptions())

	if kp, _ := first[0].Get(pp.Nose); kp.X != 2 {
		t.Errorf("recorded nose changed to %f", kp.X)
	}
}

func TestReplayErrors(t *testing.T) {

	bad := Recording{Frames: []RecordedFrame{{Poses: []RecordedPose{{
		Keypoints: []RecordedKeypoint{{Part: "tail"}},
	}}}}}

	if _, err := NewReplay(bad); err == nil {
		t.Error("expected error for unknown part")
	}

	_, err := LoadReplay(filepath.Join(t.TempDir(), "missing.yaml"))

	if !errors.Is(err, pp.ErrEstimatorUnavailable) {
		t.Errorf("expected ErrEstimatorUnavailable, got %v", err)
	}

	r, _ := NewReplay(recording(false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Estimate(ctx, gocv.NewMat(), replayOptions()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancelled, got %v", err)
	}
}

func TestLoadReplay(t *testing.T) {

	file := filepath.Join(t.TempDir(), "wave.yaml")

	data := `loop: true
frames:
  - poses:
      - id: 1
        score: 0.95
        keypoints:
          - {part: nose, x: 320, y: 100, score: 0.9}
          - {part: leftEye, x: 330, y: 90, score: 0.9}
          - {part: rightEye, x: 310, y: 90, score: 0.9}
`

	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadReplay(file)

	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if r.Len() != 1 || !r.loop {
		t.Errorf("unexpected replay len=%d loop=%v", r.Len(), r.loop)
	}
}

func TestLoadReplayExampleData(t *testing.T) {

	r, err := LoadReplay("../example/data/wave.yaml")

	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if r.Len() != 24 || !r.loop {
		t.Errorf("unexpected replay len=%d loop=%v", r.Len(), r.loop)
	}
}
