package estimate

import (
	"context"
	"fmt"
	"os"
	"sync"

	pp "github.com/swdee/go-posepuppet"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"
)

// RecordedKeypoint is a keypoint in a replay file
type RecordedKeypoint struct {
	Part  string  `yaml:"part"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Score float64 `yaml:"score"`
}

// RecordedPose is a pose in a replay file
type RecordedPose struct {
	ID        int64              `yaml:"id"`
	Score     float64            `yaml:"score"`
	Keypoints []RecordedKeypoint `yaml:"keypoints"`
}

// RecordedFrame is the poses of one detection cycle
type RecordedFrame struct {
	Poses []RecordedPose `yaml:"poses"`
}

// Recording is the content of a replay file
type Recording struct {
	// Loop restarts from the first frame after the last
	Loop   bool            `yaml:"loop"`
	Frames []RecordedFrame `yaml:"frames"`
}

// Replay is an Estimator returning recorded poses, one frame per call,
// ignoring the image.  Used for demos without a model and in tests
type Replay struct {
	frames [][]pp.Pose
	loop   bool
	next   int
	sync.Mutex
}

// LoadReplay reads a YAML recording
func LoadReplay(file string) (*Replay, error) {

	data, err := os.ReadFile(file)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", pp.ErrEstimatorUnavailable, err)
	}

	var rec Recording

	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("error parsing replay file %s: %w", file, err)
	}

	return NewReplay(rec)
}

// NewReplay returns a replay of the recording
func NewReplay(rec Recording) (*Replay, error) {

	r := &Replay{loop: rec.Loop}

	for i, f := range rec.Frames {
		poses := make([]pp.Pose, 0, len(f.Poses))

		for _, rp := range f.Poses {
			kps := make([]pp.Keypoint, 0, len(rp.Keypoints))

			for _, rk := range rp.Keypoints {
				part, err := pp.ParsePart(rk.Part)

				if err != nil {
					return nil, fmt.Errorf("frame %d: %w", i, err)
				}

				kps = append(kps, pp.Keypoint{Part: part, X: rk.X, Y: rk.Y, Score: rk.Score})
			}

			poses = append(poses, pp.NewPose(rp.ID, rp.Score, kps...))
		}

		r.frames = append(r.frames, poses)
	}

	return r, nil
}

// Len returns the number of recorded frames
func (r *Replay) Len() int {
	return len(r.frames)
}

// Estimate returns the next recorded frame's poses.  Once a non looping
// recording is exhausted it returns no poses
func (r *Replay) Estimate(ctx context.Context, frame gocv.Mat,
	opts pp.EstimateOptions) ([]pp.Pose, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.Lock()
	defer r.Unlock()

	if r.next >= len(r.frames) {
		if !r.loop || len(r.frames) == 0 {
			return []pp.Pose{}, nil
		}
		r.next = 0
	}

	recorded := r.frames[r.next]
	r.next++

	poses := make([]pp.Pose, len(recorded))

	for i, p := range recorded {
		poses[i] = p.Clone()
	}

	return pp.ApplyOptions(poses, opts, frame.Cols()), nil
}

// Close does nothing
func (r *Replay) Close() error {
	return nil
}
