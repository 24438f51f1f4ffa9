package render

import (
	"image"
	"image/color"
	"math"
	"sync"

	pp "github.com/swdee/go-posepuppet"
	"github.com/swdee/go-posepuppet/skeleton"
	"gocv.io/x/gocv"
)

// limbChain is the three keypoints of an arm or leg
type limbChain struct {
	joints [3]pp.Part
	clr    color.RGBA
}

var alienLimbs = []limbChain{
	{[3]pp.Part{pp.LeftShoulder, pp.LeftElbow, pp.LeftWrist}, alienArm},
	{[3]pp.Part{pp.RightShoulder, pp.RightElbow, pp.RightWrist}, alienArm},
	{[3]pp.Part{pp.LeftHip, pp.LeftKnee, pp.LeftAnkle}, alienLeg},
	{[3]pp.Part{pp.RightHip, pp.RightKnee, pp.RightAnkle}, alienLeg},
}

// Alien is the procedurally drawn 2D alien.  It is redrawn from scratch
// each frame from the current frame's keypoints, body parts whose keypoints
// were not accepted are not drawn
type Alien struct {
	id        int64
	rig       skeleton.Rig
	defScale  float64
	tentacles bool
	frame     skeleton.Frame
	// lastScale is the last head size seen, used when the eyes are missing
	lastScale float64
	sync.Mutex
}

// NewAlien returns an alien puppet.  defScale is the head size in pixels
// used until the eyes have been seen
func NewAlien(id int64, rig skeleton.Rig, defScale float64, tentacles bool) *Alien {
	return &Alien{
		id:        id,
		rig:       rig,
		defScale:  defScale,
		tentacles: tentacles,
	}
}

// Apply keeps the frame for the next Draw
func (a *Alien) Apply(f skeleton.Frame) {
	a.Lock()
	defer a.Unlock()

	a.frame = f

	if f.Scale > 0 {
		a.lastScale = f.Scale
	}
}

// HeadSize returns the head size the alien is drawn at
func (a *Alien) HeadSize() float64 {
	a.Lock()
	defer a.Unlock()
	return headSize(a.frame, a.lastScale, a.defScale)
}

// Draw renders the alien
func (a *Alien) Draw(img *gocv.Mat) {
	a.Lock()
	defer a.Unlock()

	view := NewView(a.rig, img)
	size := headSize(a.frame, a.lastScale, a.defScale)

	a.drawBody(img, view)

	for _, limb := range alienLimbs {
		a.drawLimb(img, view, limb, size)
	}

	a.drawExtremity(img, view, pp.LeftWrist, size, false)
	a.drawExtremity(img, view, pp.RightWrist, size, false)
	a.drawExtremity(img, view, pp.LeftAnkle, size, true)
	a.drawExtremity(img, view, pp.RightAnkle, size, true)

	// head last so it is on top of the body
	a.drawHead(img, view, size)
}

// drawHead draws the head centred on the nose with eyes, mouth and antennae
func (a *Alien) drawHead(img *gocv.Mat, view View, size float64) {

	nose, ok := a.frame.Keypoint(pp.Nose)

	if !ok {
		return
	}

	c := view.ToPixel(nose)
	at := func(dx, dy float64) image.Point {
		return image.Pt(c.X+int(dx), c.Y+int(dy))
	}

	gocv.Ellipse(img, c, image.Pt(int(size/2), int(size*1.2/2)), 0, 0, 360, alienHead, -1)

	// eyes
	eye := size * 0.2
	eyeAxes := image.Pt(int(eye/2), int(eye*1.5/2))
	gocv.Ellipse(img, at(-size/4, -size/6), eyeAxes, 0, 0, 360, alienEye, -1)
	gocv.Ellipse(img, at(size/4, -size/6), eyeAxes, 0, 0, 360, alienEye, -1)

	// mouth is the lower half of an ellipse
	gocv.Ellipse(img, at(0, size/5), image.Pt(int(size/4), int(size/10)), 0, 0, 180, alienMouth, -1)

	// antennae
	gocv.Line(img, at(0, -size/2), at(-size/4, -size*0.8), alienHead, 2)
	gocv.Line(img, at(0, -size/2), at(size/4, -size*0.8), alienHead, 2)
}

// drawBody draws the torso ellipse hanging from the shoulder midpoint
func (a *Alien) drawBody(img *gocv.Mat, view View) {

	t := a.frame.Torso

	if t == nil {
		return
	}

	top := view.ToPixel(t.Top)
	bottom := view.ToPixel(t.Bottom)

	width := t.Width * view.units()
	height := math.Hypot(float64(bottom.X-top.X), float64(bottom.Y-top.Y))

	centre := image.Pt(top.X, top.Y+int(height/2))

	gocv.Ellipse(img, centre, image.Pt(int(width*1.2/2), int(height*1.1/2)), 0, 0, 360, alienBody, -1)
}

// drawLimb draws an arm or leg when all three of its keypoints are present
func (a *Alien) drawLimb(img *gocv.Mat, view View, limb limbChain, size float64) {

	var pts [3]image.Point

	for i, part := range limb.joints {
		p, ok := a.frame.Keypoint(part)

		if !ok {
			return
		}

		pts[i] = view.ToPixel(p)
	}

	width := size * 0.2

	if a.tentacles {
		outline := tentacle(pts[:], width, 0.5, 4)
		if len(outline) == 0 {
			return
		}

		pv := gocv.NewPointsVectorFromPoints(outline)
		defer pv.Close()

		gocv.FillPoly(img, pv, limb.clr)
		gocv.Polylines(img, pv, true, alienHand, 1)
		return
	}

	drawSegment(img, pts[0], pts[1], width, limb.clr)
	drawSegment(img, pts[1], pts[2], width*0.8, limb.clr)
}

// drawExtremity draws a round hand or a flat foot
func (a *Alien) drawExtremity(img *gocv.Mat, view View, part pp.Part, size float64, foot bool) {

	p, ok := a.frame.Keypoint(part)

	if !ok {
		return
	}

	c := view.ToPixel(p)

	if foot {
		gocv.Ellipse(img, image.Pt(c.X, c.Y+int(size*0.1)),
			image.Pt(int(size*0.2), int(size*0.1)), 0, 0, 360, alienFoot, -1)
		return
	}

	gocv.Circle(img, c, int(size*0.15), alienHand, -1)
}

// drawSegment draws an ellipse spanning from a to b
func drawSegment(img *gocv.Mat, a, b image.Point, width float64, clr color.RGBA) {

	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	length := math.Hypot(dx, dy)

	centre := image.Pt((a.X+b.X)/2, (a.Y+b.Y)/2)
	angle := degrees(math.Atan2(dy, dx))

	gocv.Ellipse(img, centre, image.Pt(int(length/2), int(width/2)), angle, 0, 360, clr, -1)
}

// Close does nothing, aliens hold no resources
func (a *Alien) Close() error {
	return nil
}
