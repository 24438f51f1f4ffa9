// Package skeleton maps pose keypoints onto a fixed topology of bones,
// producing rotation angles, lengths, a root anchor and a display scale for
// driving a puppet.
package skeleton

import (
	"fmt"
	"math"

	pp "github.com/swdee/go-posepuppet"
)

// BoneName identifies a segment of the puppet skeleton
type BoneName string

const (
	Head          BoneName = "head"
	Spine         BoneName = "spine"
	LeftUpperArm  BoneName = "leftUpperArm"
	LeftForearm   BoneName = "leftForearm"
	RightUpperArm BoneName = "rightUpperArm"
	RightForearm  BoneName = "rightForearm"
	LeftThigh     BoneName = "leftThigh"
	LeftShin      BoneName = "leftShin"
	RightThigh    BoneName = "rightThigh"
	RightShin     BoneName = "rightShin"
)

// Segment is a bone defined between two keypoints, From is the parent joint
type Segment struct {
	Name BoneName
	From pp.Part
	To   pp.Part
}

// Topology is the fixed set of bones mapped from a pose.  Head orientation
// comes from the eyes, torso orientation from the shoulders and each limb is
// a chain of two bones
var Topology = []Segment{
	{Head, pp.LeftEye, pp.RightEye},
	{Spine, pp.LeftShoulder, pp.RightShoulder},
	{LeftUpperArm, pp.LeftShoulder, pp.LeftElbow},
	{LeftForearm, pp.LeftElbow, pp.LeftWrist},
	{RightUpperArm, pp.RightShoulder, pp.RightElbow},
	{RightForearm, pp.RightElbow, pp.RightWrist},
	{LeftThigh, pp.LeftHip, pp.LeftKnee},
	{LeftShin, pp.LeftKnee, pp.LeftAnkle},
	{RightThigh, pp.RightHip, pp.RightKnee},
	{RightShin, pp.RightKnee, pp.RightAnkle},
}

// Limbs lists the two bone chains of each arm and leg, upper bone first
var Limbs = [][2]BoneName{
	{LeftUpperArm, LeftForearm},
	{RightUpperArm, RightForearm},
	{LeftThigh, LeftShin},
	{RightThigh, RightShin},
}

// SegmentFor returns the topology entry of the named bone
func SegmentFor(name BoneName) (Segment, error) {
	for _, s := range Topology {
		if s.Name == name {
			return s, nil
		}
	}
	return Segment{}, fmt.Errorf("unknown bone: %q", name)
}

// Bone is the computed transform of one segment for the current frame
type Bone struct {
	Name BoneName
	// Angle is the rotation in radians after the rig rest offset is applied
	Angle float64
	// Raw is the image space angle atan2(dy, dx) before the rig offset
	Raw float64
	// Length is the pixel distance between the two keypoints
	Length float64
	// Start is the position of the parent joint in rig space
	Start Point
	// End is the position of the child joint in rig space
	End Point
}

// Point is a 2D position
type Point struct {
	X, Y float64
}

// Add returns p+o
func (p Point) Add(o Point) Point {
	return Point{p.X + o.X, p.Y + o.Y}
}

// Sub returns p-o
func (p Point) Sub(o Point) Point {
	return Point{p.X - o.X, p.Y - o.Y}
}

// Scale returns p multiplied by s
func (p Point) Scale(s float64) Point {
	return Point{p.X * s, p.Y * s}
}

// Mid returns the midpoint between p and o
func (p Point) Mid(o Point) Point {
	return Point{(p.X + o.X) / 2, (p.Y + o.Y) / 2}
}

// Dist returns the distance between p and o
func (p Point) Dist(o Point) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

// BoneAngle returns the image space angle of the vector from a to b.  Only
// the relative vector matters, so the angle is invariant to translating both
// points by the same offset
func BoneAngle(a, b pp.Keypoint) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}
