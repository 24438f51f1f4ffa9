package render

import (
	"sync"

	pp "github.com/swdee/go-posepuppet"
	"github.com/swdee/go-posepuppet/skeleton"
	"gocv.io/x/gocv"
)

// skeletonLines defines the pose keypoints to draw lines between, so
// {LeftAnkle, LeftKnee} draws a line from left ankle to left knee.  Line i
// is drawn in limbColors[i]
var skeletonLines = [][2]pp.Part{
	{pp.LeftAnkle, pp.LeftKnee}, {pp.LeftKnee, pp.LeftHip},
	{pp.RightAnkle, pp.RightKnee}, {pp.RightKnee, pp.RightHip},
	{pp.LeftHip, pp.RightHip}, {pp.LeftShoulder, pp.LeftHip},
	{pp.RightShoulder, pp.RightHip}, {pp.LeftShoulder, pp.RightShoulder},
	{pp.LeftShoulder, pp.LeftElbow}, {pp.RightShoulder, pp.RightElbow},
	{pp.LeftElbow, pp.LeftWrist}, {pp.RightElbow, pp.RightWrist},
	{pp.LeftEye, pp.RightEye}, {pp.Nose, pp.LeftEye},
	{pp.Nose, pp.RightEye}, {pp.LeftEye, pp.LeftEar},
	{pp.RightEye, pp.RightEar}, {pp.LeftEar, pp.LeftShoulder},
	{pp.RightEar, pp.RightShoulder},
}

// Dots is the keypoint overlay puppet, drawing a circle on each accepted
// keypoint and lines between connected keypoints
type Dots struct {
	id  int64
	rig skeleton.Rig
	// LineThickness of the skeleton lines
	LineThickness int
	// Radius of the keypoint circles
	Radius int
	frame  skeleton.Frame
	sync.Mutex
}

// NewDots returns a keypoint overlay puppet
func NewDots(id int64, rig skeleton.Rig) *Dots {
	return &Dots{
		id:            id,
		rig:           rig,
		LineThickness: 2,
		Radius:        3,
	}
}

// Apply keeps the frame's keypoints, they are redrawn from scratch
func (d *Dots) Apply(f skeleton.Frame) {
	d.Lock()
	defer d.Unlock()
	d.frame = f
}

// Draw renders the keypoints and skeleton lines
func (d *Dots) Draw(img *gocv.Mat) {
	d.Lock()
	defer d.Unlock()

	view := NewView(d.rig, img)

	// draw skeleton lines
	for j, line := range skeletonLines {
		a, okA := d.frame.Keypoint(line[0])
		b, okB := d.frame.Keypoint(line[1])

		if !okA || !okB {
			continue
		}

		gocv.Line(img, view.ToPixel(a), view.ToPixel(b), limbColors[j], d.LineThickness)
	}

	// draw circles at skeleton joints
	for part, pt := range d.frame.Keypoints {
		gocv.Circle(img, view.ToPixel(pt), d.Radius, keyPointColors[part], -1)
	}
}

// Close does nothing, dots hold no resources
func (d *Dots) Close() error {
	return nil
}
