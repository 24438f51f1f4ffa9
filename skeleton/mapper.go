package skeleton

import (
	"math"

	pp "github.com/swdee/go-posepuppet"
)

// DefaultThreshold is the minimum keypoint score for the keypoint to drive
// a bone, anchor or scale
const DefaultThreshold = 0.5

// Torso is the body box between the shoulders and hips
type Torso struct {
	// Top is the shoulder midpoint
	Top Point
	// Bottom is the hip midpoint
	Bottom Point
	// Width is the shoulder to shoulder distance
	Width float64
	// Height is the shoulder midpoint to hip midpoint distance
	Height float64
}

// Frame is the skeleton mapping of one pose for one detection cycle.  Bones
// whose endpoints are below the acceptance threshold are omitted, callers
// either skip updating them or hold the last known angle (see Holder)
type Frame struct {
	ID int64
	// Bones computed this cycle, keyed by name
	Bones map[BoneName]Bone
	// Anchor is the puppet root position in rig space, valid if HasAnchor
	Anchor    Point
	HasAnchor bool
	// Scale is the head size, eye distance multiplied by the rig scale
	// factor.  Zero when the eyes were not accepted
	Scale float64
	// Torso is set when both shoulders and hips were accepted
	Torso *Torso
	// Keypoints holds every accepted keypoint in rig space
	Keypoints map[pp.Part]Point
}

// Bone returns the named bone and whether it was computed
func (f Frame) Bone(name BoneName) (Bone, bool) {
	b, ok := f.Bones[name]
	return b, ok
}

// Keypoint returns the rig space position of an accepted keypoint
func (f Frame) Keypoint(part pp.Part) (Point, bool) {
	p, ok := f.Keypoints[part]
	return p, ok
}

// Mapper converts poses into skeleton frames for a rig
type Mapper struct {
	// Rig is the puppet configuration table
	Rig Rig
	// Threshold is the keypoint acceptance score
	Threshold float64
	// frame dimensions used for centred space
	width  int
	height int
}

// NewMapper returns a mapper for the rig and frame size
func NewMapper(rig Rig, width, height int) *Mapper {
	return &Mapper{
		Rig:       rig,
		Threshold: DefaultThreshold,
		width:     width,
		height:    height,
	}
}

// SetFrameSize updates the frame dimensions, eg: after a resize
func (m *Mapper) SetFrameSize(width, height int) {
	m.width = width
	m.height = height
}

// ToRig converts a frame pixel position into rig space
func (m *Mapper) ToRig(x, y float64) Point {

	if m.Rig.Space == SpaceCentered {
		return Point{
			X: (x - float64(m.width)/2) / m.Rig.Divisor,
			Y: (float64(m.height)/2 - y) / m.Rig.Divisor,
		}
	}

	return Point{X: x, Y: y}
}

// Map computes the skeleton frame for the pose
func (m *Mapper) Map(pose pp.Pose) Frame {

	f := Frame{
		ID:        pose.ID,
		Bones:     make(map[BoneName]Bone, len(Topology)),
		Keypoints: make(map[pp.Part]Point, len(pose.Keypoints)),
	}

	for part, kp := range pose.Keypoints {
		if kp.Score >= m.Threshold {
			f.Keypoints[part] = m.ToRig(kp.X, kp.Y)
		}
	}

	for _, seg := range Topology {
		if b, ok := m.bone(seg, f.Keypoints); ok {
			f.Bones[seg.Name] = b
		}
	}

	f.Anchor, f.HasAnchor = m.anchor(f.Keypoints)
	f.Scale = m.scale(pose)
	f.Torso = torso(f.Keypoints)

	return f
}

// MapAll maps each pose in order
func (m *Mapper) MapAll(poses []pp.Pose) []Frame {

	frames := make([]Frame, len(poses))

	for i, p := range poses {
		frames[i] = m.Map(p)
	}

	return frames
}

// bone computes a segment when both of its keypoints were accepted
func (m *Mapper) bone(seg Segment, kps map[pp.Part]Point) (Bone, bool) {

	a, okA := kps[seg.From]
	b, okB := kps[seg.To]

	if !okA || !okB {
		return Bone{}, false
	}

	raw := math.Atan2(b.Y-a.Y, b.X-a.X)

	return Bone{
		Name:   seg.Name,
		Raw:    raw,
		Angle:  m.Rig.Rest(seg.Name).Apply(raw),
		Length: a.Dist(b),
		Start:  a,
		End:    b,
	}, true
}

// anchor returns the puppet root position for the rig's anchor mode
func (m *Mapper) anchor(kps map[pp.Part]Point) (Point, bool) {

	if m.Rig.Anchor == AnchorShoulders {
		l, okL := kps[pp.LeftShoulder]
		r, okR := kps[pp.RightShoulder]

		if okL && okR {
			return l.Mid(r), true
		}

		return Point{}, false
	}

	nose, ok := kps[pp.Nose]
	return nose, ok
}

// scale returns the head size from the pixel distance between the eyes so
// the puppet scale is invariant to the subject's distance from the camera
func (m *Mapper) scale(pose pp.Pose) float64 {

	le, okL := pose.Accepted(pp.LeftEye, m.Threshold)
	re, okR := pose.Accepted(pp.RightEye, m.Threshold)

	if !okL || !okR {
		return 0
	}

	return le.Dist(re) * m.Rig.ScaleFactor
}

// torso returns the body box when shoulders and hips are all accepted
func torso(kps map[pp.Part]Point) *Torso {

	ls, ok1 := kps[pp.LeftShoulder]
	rs, ok2 := kps[pp.RightShoulder]
	lh, ok3 := kps[pp.LeftHip]
	rh, ok4 := kps[pp.RightHip]

	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	top := ls.Mid(rs)
	bottom := lh.Mid(rh)

	return &Torso{
		Top:    top,
		Bottom: bottom,
		Width:  ls.Dist(rs),
		Height: top.Dist(bottom),
	}
}
