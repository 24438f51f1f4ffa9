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

// Ellipsoid is the primitive puppet built from shaded ellipses, each drawn
// with highlight passes so it reads as a lit 3D sphere or capsule
type Ellipsoid struct {
	id       int64
	rig      skeleton.Rig
	defScale float64
	// Passes is the number of highlight passes drawn over each ellipse
	Passes int
	// Color is the base colour of the puppet
	Color     color.RGBA
	frame     skeleton.Frame
	lastScale float64
	sync.Mutex
}

// NewEllipsoid returns an ellipsoid puppet coloured by its identity
func NewEllipsoid(id int64, rig skeleton.Rig, defScale float64) *Ellipsoid {
	return &Ellipsoid{
		id:       id,
		rig:      rig,
		defScale: defScale,
		Passes:   3,
		Color:    IDColor(id),
	}
}

// Apply keeps the frame for the next Draw
func (e *Ellipsoid) Apply(f skeleton.Frame) {
	e.Lock()
	defer e.Unlock()

	e.frame = f

	if f.Scale > 0 {
		e.lastScale = f.Scale
	}
}

// Draw renders the torso, limbs, joints and head
func (e *Ellipsoid) Draw(img *gocv.Mat) {
	e.Lock()
	defer e.Unlock()

	view := NewView(e.rig, img)
	size := headSize(e.frame, e.lastScale, e.defScale)

	if t := e.frame.Torso; t != nil {
		top := view.ToPixel(t.Top)
		bottom := view.ToPixel(t.Bottom)
		dx := float64(bottom.X - top.X)
		dy := float64(bottom.Y - top.Y)

		centre := image.Pt((top.X+bottom.X)/2, (top.Y+bottom.Y)/2)
		axes := image.Pt(int(math.Hypot(dx, dy)/2), int(t.Width*view.units()/2))

		shadedEllipse(img, centre, axes, degrees(math.Atan2(dy, dx)), e.Color, e.Passes)
	}

	for _, seg := range skeleton.Topology {
		if seg.Name == skeleton.Head || seg.Name == skeleton.Spine {
			continue
		}

		a, okA := e.frame.Keypoint(seg.From)
		b, okB := e.frame.Keypoint(seg.To)

		if !okA || !okB {
			continue
		}

		pa, pb := view.ToPixel(a), view.ToPixel(b)
		dx := float64(pb.X - pa.X)
		dy := float64(pb.Y - pa.Y)

		centre := image.Pt((pa.X+pb.X)/2, (pa.Y+pb.Y)/2)
		axes := image.Pt(int(math.Hypot(dx, dy)/2), int(size*0.1))

		shadedEllipse(img, centre, axes, degrees(math.Atan2(dy, dx)), e.Color, e.Passes)
	}

	// joint spheres
	for _, part := range []pp.Part{pp.LeftElbow, pp.RightElbow, pp.LeftKnee,
		pp.RightKnee, pp.LeftWrist, pp.RightWrist, pp.LeftAnkle, pp.RightAnkle} {

		if p, ok := e.frame.Keypoint(part); ok {
			r := int(size * 0.12)
			shadedEllipse(img, view.ToPixel(p), image.Pt(r, r), 0, e.Color, e.Passes)
		}
	}

	if nose, ok := e.frame.Keypoint(pp.Nose); ok {
		r := int(size / 2)
		shadedEllipse(img, view.ToPixel(nose), image.Pt(r, int(float64(r)*1.1)), 0, e.Color, e.Passes)
	}
}

// Close does nothing, ellipsoids hold no resources
func (e *Ellipsoid) Close() error {
	return nil
}

// shadedEllipse draws a filled ellipse in a darkened base colour followed by
// progressively smaller and lighter passes offset towards a light at the
// top left, finishing with a specular dot
func shadedEllipse(img *gocv.Mat, centre, axes image.Point, angle float64,
	base color.RGBA, passes int) {

	if axes.X < 1 || axes.Y < 1 {
		return
	}

	gocv.Ellipse(img, centre, axes, angle, 0, 360, shade(base, 0.55), -1)

	for i := 1; i <= passes; i++ {
		f := float64(i) / float64(passes+1)

		ax := image.Pt(
			int(float64(axes.X)*(1-0.6*f)),
			int(float64(axes.Y)*(1-0.6*f)),
		)

		if ax.X < 1 || ax.Y < 1 {
			break
		}

		c := image.Pt(
			centre.X-int(float64(axes.X)*0.3*f),
			centre.Y-int(float64(axes.Y)*0.3*f),
		)

		gocv.Ellipse(img, c, ax, angle, 0, 360, shade(base, 0.55+0.6*f), -1)
	}

	glint := int(math.Max(1, float64(min(axes.X, axes.Y))*0.15))
	gocv.Circle(img, image.Pt(centre.X-axes.X/3, centre.Y-axes.Y/3), glint, White, -1)
}

// shade scales a colour towards black for f below 1 and towards white for f
// above 1
func shade(c color.RGBA, f float64) color.RGBA {

	ch := func(v uint8) uint8 {
		x := float64(v)

		if f <= 1 {
			x *= f
		} else {
			x += (255 - x) * math.Min(f-1, 1)
		}

		return uint8(math.Max(0, math.Min(255, x)))
	}

	return color.RGBA{R: ch(c.R), G: ch(c.G), B: ch(c.B), A: 255}
}
