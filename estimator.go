package posepuppet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gocv.io/x/gocv"
)

// ErrEstimatorUnavailable is returned when the pose estimation model or
// worker program can not be loaded
var ErrEstimatorUnavailable = errors.New("pose estimator unavailable")

// Decoding selects between single and multi person pose decoding
type Decoding int

const (
	MultiPerson Decoding = iota
	SinglePerson
)

// String returns the decoding method name as used in configuration
func (d Decoding) String() string {
	if d == SinglePerson {
		return "single-person"
	}
	return "multi-person"
}

// ParseDecoding converts a configuration string into a Decoding
func ParseDecoding(s string) (Decoding, error) {

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "multi", "multi-person":
		return MultiPerson, nil
	case "single", "single-person":
		return SinglePerson, nil
	}

	return MultiPerson, fmt.Errorf("unknown decoding method: %q", s)
}

// EstimateOptions are the per call settings passed to an Estimator
type EstimateOptions struct {
	// FlipHorizontal mirrors the output poses, used for selfie cameras
	FlipHorizontal bool
	// Decoding selects single or multi person decoding
	Decoding Decoding
	// MaxDetections is the maximum number of poses returned
	MaxDetections int
	// ScoreThreshold is the minimum pose score to be returned
	ScoreThreshold float64
	// NMSRadius is the pixel radius within which two poses sharing a
	// keypoint location are considered duplicates and the lower scored one
	// is dropped
	NMSRadius float64
}

// DefaultEstimateOptions returns the multi person settings used by the
// alien demos
func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{
		FlipHorizontal: false,
		Decoding:       MultiPerson,
		MaxDetections:  5,
		ScoreThreshold: 0.5,
		NMSRadius:      20,
	}
}

// Estimator runs pose estimation on a single frame.  An empty slice with a
// nil error means no person was detected
type Estimator interface {
	Estimate(ctx context.Context, frame gocv.Mat, opts EstimateOptions) ([]Pose, error)
	Close() error
}

// Subscriber is implemented by estimators that push results as they become
// available instead of returning them from Estimate
type Subscriber interface {
	// Submit queues a frame for estimation without waiting for the result
	Submit(ctx context.Context, frame gocv.Mat, opts EstimateOptions) error
	// Subscribe returns a channel that receives each result set.  The
	// channel is closed when ctx is done or the estimator stops
	Subscribe(ctx context.Context) <-chan []Pose
}

// EstimatorFunc adapts a plain function to the Estimator interface
type EstimatorFunc func(ctx context.Context, frame gocv.Mat, opts EstimateOptions) ([]Pose, error)

// Estimate calls f
func (f EstimatorFunc) Estimate(ctx context.Context, frame gocv.Mat,
	opts EstimateOptions) ([]Pose, error) {
	return f(ctx, frame, opts)
}

// Close does nothing
func (f EstimatorFunc) Close() error {
	return nil
}

// ApplyOptions enforces the generic option semantics on a result set:
// score threshold, radius based non-maximum suppression, single person
// decoding, maximum detections and horizontal flip.  Backends that can not
// do this natively call it before returning
func ApplyOptions(poses []Pose, opts EstimateOptions, frameWidth int) []Pose {

	kept := make([]Pose, 0, len(poses))

	for _, p := range poses {
		if p.Score >= opts.ScoreThreshold {
			kept = append(kept, p)
		}
	}

	sortByScore(kept)

	if opts.NMSRadius > 0 {
		kept = suppressByRadius(kept, opts.NMSRadius, opts.ScoreThreshold)
	}

	limit := opts.MaxDetections
	if opts.Decoding == SinglePerson {
		limit = 1
	}

	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}

	if opts.FlipHorizontal {
		for i := range kept {
			kept[i] = kept[i].FlipHorizontal(frameWidth)
		}
	}

	return kept
}

// sortByScore orders poses highest score first, stable on ties
func sortByScore(poses []Pose) {
	sort.SliceStable(poses, func(i, j int) bool {
		return poses[i].Score > poses[j].Score
	})
}

// suppressByRadius drops a pose when any of its keypoints lies within radius
// of the same keypoint of a higher scored pose already kept.  poses must be
// sorted by descending score.  Keypoints scored below minScore are ignored
func suppressByRadius(poses []Pose, radius, minScore float64) []Pose {

	kept := make([]Pose, 0, len(poses))

	for _, p := range poses {
		duplicate := false

		for _, k := range kept {
			if withinRadius(p, k, radius, minScore) {
				duplicate = true
				break
			}
		}

		if !duplicate {
			kept = append(kept, p)
		}
	}

	return kept
}

// withinRadius reports whether a and b share any keypoint location within
// the given radius
func withinRadius(a, b Pose, radius, minScore float64) bool {
	for part, ka := range a.Keypoints {
		kb, ok := b.Keypoints[part]
		if !ok || ka.Score < minScore || kb.Score < minScore {
			continue
		}
		if ka.Dist(kb) <= radius {
			return true
		}
	}
	return false
}
