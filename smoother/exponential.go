package smoother

import (
	"fmt"

	pp "github.com/swdee/go-posepuppet"
)

// Exponential is a low pass filter that blends each new keypoint sample
// into the running average
//
//	smoothed = smoothed*Factor + raw*(1-Factor)
//
// Higher factors give smoother output with more lag.
type Exponential struct {
	// Factor is the weight of the previous smoothed value in [0,1)
	Factor float64
	// GateBelow, when greater than zero, skips updating keypoints whose raw
	// score is below the gate so low confidence samples can not drag the
	// average.  Zero applies every sample regardless of score
	GateBelow float64
}

// NewExponential returns an exponential filter with the given factor
func NewExponential(factor float64) (*Exponential, error) {

	if factor < 0 || factor >= 1 {
		return nil, fmt.Errorf("smoothing factor must be in [0,1), got %v", factor)
	}

	return &Exponential{Factor: factor}, nil
}

// Update blends raw into prev.  With no previous state the raw pose is
// returned as is
func (e *Exponential) Update(prev *pp.Pose, raw pp.Pose) pp.Pose {

	if prev == nil {
		return raw.Clone()
	}

	next := prev.Clone()
	next.Score = raw.Score

	for part, kp := range raw.Keypoints {

		old, seen := next.Keypoints[part]

		if !seen {
			next.Keypoints[part] = kp
			continue
		}

		if e.GateBelow > 0 && kp.Score < e.GateBelow {
			// hold position, but report the current confidence
			old.Score = kp.Score
			next.Keypoints[part] = old
			continue
		}

		next.Keypoints[part] = pp.Keypoint{
			Part:  part,
			X:     lerp(old.X, kp.X, 1-e.Factor),
			Y:     lerp(old.Y, kp.Y, 1-e.Factor),
			Score: kp.Score,
		}
	}

	return next
}

// Forget does nothing as the filter holds no state beyond the smoothed pose
func (e *Exponential) Forget(id int64) {}

// lerp linearly interpolates from a towards b by t
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
