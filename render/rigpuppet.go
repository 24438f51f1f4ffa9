package render

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/swdee/go-posepuppet/skeleton"
	"gocv.io/x/gocv"
)

// RigSegment is a solved joint in image pixels
type RigSegment struct {
	Joint string
	Start image.Point
	End   image.Point
	// Width of the drawn limb in pixels
	Width float64
	// Hidden segments are not drawn
	Hidden bool
}

// RigPuppet is a jointed figure posed by forward kinematics.  Joints driven
// by a bone take the bone's direction, all others keep their rest
// direction relative to their parent.  A joint whose bone is missing holds
// the last rotation it received
type RigPuppet struct {
	id       int64
	asset    *RigAsset
	rig      skeleton.Rig
	defScale float64
	// Color of the figure
	Color color.RGBA
	// drives maps joint names onto the bone driving them
	drives    map[string]skeleton.BoneName
	rotations map[string]float64
	anchor    skeleton.Point
	hasAnchor bool
	lastScale float64
	sync.Mutex
}

// NewRigPuppet returns a puppet posing asset with bones mapped by rig
func NewRigPuppet(id int64, asset *RigAsset, rig skeleton.Rig, defScale float64) *RigPuppet {

	drives := make(map[string]skeleton.BoneName, len(skeleton.Topology))

	for _, seg := range skeleton.Topology {
		drives[rig.Rest(seg.Name).Joint] = seg.Name
	}

	return &RigPuppet{
		id:        id,
		asset:     asset,
		rig:       rig,
		defScale:  defScale,
		Color:     IDColor(id),
		drives:    drives,
		rotations: make(map[string]float64),
	}
}

// Apply sets the joint rotations of the bones present in the frame
func (r *RigPuppet) Apply(f skeleton.Frame) {
	r.Lock()
	defer r.Unlock()

	for _, b := range f.Bones {
		r.rotations[r.rig.Rest(b.Name).Joint] = b.Angle
	}

	if f.HasAnchor {
		r.anchor = f.Anchor
		r.hasAnchor = true
	}

	if f.Scale > 0 {
		r.lastScale = f.Scale
	}
}

// Rotation returns the last rotation applied to a joint
func (r *RigPuppet) Rotation(joint string) (float64, bool) {
	r.Lock()
	defer r.Unlock()

	rot, ok := r.rotations[joint]
	return rot, ok
}

// Solve positions every joint of the asset in view pixels.  Nothing is
// returned until an anchor has been seen
func (r *RigPuppet) Solve(view View) []RigSegment {
	r.Lock()
	defer r.Unlock()

	if !r.hasAnchor {
		return nil
	}

	size := r.defScale
	if r.lastScale > 0 {
		size = r.lastScale
	}

	// asset directions are y up, pixel space rigs are y down
	sign := 1.0
	if view.Space != skeleton.SpaceCentered {
		sign = -1
	}

	type solved struct {
		end skeleton.Point
		dir float64
	}

	joints := make(map[string]solved, len(r.asset.Joints))
	segs := make([]RigSegment, 0, len(r.asset.Joints))

	for _, j := range r.asset.Joints {

		start := r.anchor
		dir := sign * j.Direction

		if parent, ok := joints[j.Parent]; ok {
			start = parent.end
			dir += parent.dir
		}

		if bone, ok := r.drives[j.Name]; ok {
			if rot, ok := r.rotations[j.Name]; ok {
				dir = r.rig.Rest(bone).Invert(rot) + sign*j.DriveOffset
			}
		}

		length := view.ToRigLength(j.Length * size)
		end := start.Add(skeleton.Point{X: length * math.Cos(dir), Y: length * math.Sin(dir)})

		joints[j.Name] = solved{end: end, dir: dir}

		segs = append(segs, RigSegment{
			Joint:  j.Name,
			Start:  view.ToPixel(start),
			End:    view.ToPixel(end),
			Width:  j.Width * size,
			Hidden: j.Hidden,
		})
	}

	return segs
}

// Draw renders the solved figure as capsules with a highlighted joint at
// each segment start
func (r *RigPuppet) Draw(img *gocv.Mat) {

	view := NewView(r.rig, img)
	segs := r.Solve(view)

	for _, s := range segs {
		if s.Hidden || s.Start == s.End {
			continue
		}

		if s.Width >= s.length()*0.5 {
			// wide short joints such as the head are drawn as an ellipse
			centre := image.Pt((s.Start.X+s.End.X)/2, (s.Start.Y+s.End.Y)/2)
			axes := image.Pt(int(s.length()/2), int(s.Width/2))
			angle := degrees(math.Atan2(float64(s.End.Y-s.Start.Y), float64(s.End.X-s.Start.X)))

			shadedEllipse(img, centre, axes, angle, r.Color, 2)
			continue
		}

		thickness := int(math.Max(1, s.Width))

		gocv.Line(img, s.Start, s.End, shade(r.Color, 0.7), thickness)
		gocv.Circle(img, s.Start, thickness/2, r.Color, -1)
		gocv.Circle(img, s.End, thickness/2, r.Color, -1)
	}
}

// Close does nothing, the asset is shared between puppets
func (r *RigPuppet) Close() error {
	return nil
}

func (s RigSegment) length() float64 {
	return math.Hypot(float64(s.End.X-s.Start.X), float64(s.End.Y-s.Start.Y))
}
