package posepuppet

import (
	"fmt"
	"math"
	"strings"
)

// Part is a named body landmark.  The numeric values follow the COCO
// keypoint order used by PoseNet and YOLOv8-pose models
type Part int

const (
	Nose Part = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
)

// PartsTotal is the number of keypoints in a COCO skeleton
const PartsTotal = 17

var partNames = [PartsTotal]string{
	"nose", "leftEye", "rightEye", "leftEar", "rightEar",
	"leftShoulder", "rightShoulder", "leftElbow", "rightElbow",
	"leftWrist", "rightWrist", "leftHip", "rightHip",
	"leftKnee", "rightKnee", "leftAnkle", "rightAnkle",
}

// String returns the camelCase name of the part, eg: leftShoulder
func (p Part) String() string {
	if p < 0 || int(p) >= PartsTotal {
		return fmt.Sprintf("Part(%d)", int(p))
	}
	return partNames[p]
}

// Valid reports whether p is one of the COCO parts
func (p Part) Valid() bool {
	return p >= 0 && int(p) < PartsTotal
}

// ParsePart converts a keypoint label into a Part.  Both the camelCase names
// used by PoseNet (leftShoulder) and the snake_case names used by MediaPipe
// and COCO annotation files (left_shoulder) are accepted
func ParsePart(name string) (Part, error) {

	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

	for i, n := range partNames {
		if strings.ToLower(n) == key {
			return Part(i), nil
		}
	}

	return -1, fmt.Errorf("unknown keypoint part: %q", name)
}

// Parts returns all parts in COCO order
func Parts() []Part {
	parts := make([]Part, PartsTotal)
	for i := range parts {
		parts[i] = Part(i)
	}
	return parts
}

// Keypoint is a single detected landmark in frame pixel coordinates
type Keypoint struct {
	Part Part
	X    float64
	Y    float64
	// Score is the detection confidence in the range [0,1]
	Score float64
}

// Dist returns the euclidean distance between two keypoints
func (k Keypoint) Dist(o Keypoint) float64 {
	return math.Hypot(o.X-k.X, o.Y-k.Y)
}

// Translate returns a copy of the keypoint moved by dx, dy
func (k Keypoint) Translate(dx, dy float64) Keypoint {
	k.X += dx
	k.Y += dy
	return k
}

// Pose is the set of keypoints detected for one person in one frame
type Pose struct {
	// ID identifies the person across detection cycles.  Zero means the
	// estimator did not assign an identity and the tracker should
	ID int64
	// Score is the overall pose confidence
	Score float64
	// Keypoints indexed by part
	Keypoints map[Part]Keypoint
}

// NewPose returns a pose built from the given keypoints
func NewPose(id int64, score float64, kps ...Keypoint) Pose {

	p := Pose{
		ID:        id,
		Score:     score,
		Keypoints: make(map[Part]Keypoint, len(kps)),
	}

	for _, kp := range kps {
		p.Keypoints[kp.Part] = kp
	}

	return p
}

// Get returns the keypoint for the part and whether it exists
func (p Pose) Get(part Part) (Keypoint, bool) {
	kp, ok := p.Keypoints[part]
	return kp, ok
}

// Accepted returns the keypoint for part only if it is present and its score
// is at or above threshold
func (p Pose) Accepted(part Part, threshold float64) (Keypoint, bool) {
	kp, ok := p.Keypoints[part]
	if !ok || kp.Score < threshold {
		return Keypoint{}, false
	}
	return kp, true
}

// Clone returns a deep copy of the pose so the keypoint map is not shared
func (p Pose) Clone() Pose {

	c := Pose{
		ID:        p.ID,
		Score:     p.Score,
		Keypoints: make(map[Part]Keypoint, len(p.Keypoints)),
	}

	for k, v := range p.Keypoints {
		c.Keypoints[k] = v
	}

	return c
}

// Bounds returns the axis aligned box around all keypoints with a score at
// or above threshold.  ok is false when fewer than two keypoints qualify
func (p Pose) Bounds(threshold float64) (x1, y1, x2, y2 float64, ok bool) {

	n := 0
	x1, y1 = math.Inf(1), math.Inf(1)
	x2, y2 = math.Inf(-1), math.Inf(-1)

	for _, kp := range p.Keypoints {
		if kp.Score < threshold {
			continue
		}

		x1 = math.Min(x1, kp.X)
		y1 = math.Min(y1, kp.Y)
		x2 = math.Max(x2, kp.X)
		y2 = math.Max(y2, kp.Y)
		n++
	}

	if n < 2 {
		return 0, 0, 0, 0, false
	}

	return x1, y1, x2, y2, true
}

// FlipHorizontal mirrors every keypoint across the vertical centre line of a
// frame of the given width and swaps left and right parts
func (p Pose) FlipHorizontal(width int) Pose {

	c := Pose{
		ID:        p.ID,
		Score:     p.Score,
		Keypoints: make(map[Part]Keypoint, len(p.Keypoints)),
	}

	for part, kp := range p.Keypoints {
		mirrored := mirrorPart(part)
		kp.Part = mirrored
		kp.X = float64(width-1) - kp.X
		c.Keypoints[mirrored] = kp
	}

	return c
}

// mirrorPart returns the opposite side counterpart of a part
func mirrorPart(p Part) Part {
	if p == Nose {
		return p
	}
	// left parts are odd and right parts are even after the nose
	if p%2 == 1 {
		return p + 1
	}
	return p - 1
}
