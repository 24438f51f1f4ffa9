// Package render draws puppets, the starfield backdrop and overlays onto
// gocv frames.
package render

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/swdee/go-posepuppet/skeleton"
	"github.com/swdee/go-posepuppet/tracker"
	"gocv.io/x/gocv"
)

// Puppet is a figure driven by the skeleton frames of one tracked identity
type Puppet interface {
	// Apply updates the puppet with the latest skeleton frame
	Apply(f skeleton.Frame)
	// Draw renders the puppet onto img
	Draw(img *gocv.Mat)
	// Close releases the puppet
	Close() error
}

// Variant names a puppet style
type Variant string

const (
	// VariantDots draws the keypoints and skeleton lines
	VariantDots Variant = "dots"
	// VariantAlien draws the procedural 2D alien
	VariantAlien Variant = "alien"
	// VariantRig draws a jointed figure by forward kinematics
	VariantRig Variant = "rig"
	// VariantEllipsoid draws shaded ellipses resembling spheres
	VariantEllipsoid Variant = "ellipsoid"
)

// ParseVariant converts a configuration string into a Variant
func ParseVariant(s string) (Variant, error) {

	v := Variant(strings.ToLower(strings.TrimSpace(s)))

	switch v {
	case VariantDots, VariantAlien, VariantRig, VariantEllipsoid:
		return v, nil
	case "":
		return VariantAlien, nil
	}

	return "", fmt.Errorf("unknown puppet variant: %q", s)
}

// PuppetOptions defines how puppets are built for new identities
type PuppetOptions struct {
	Variant Variant
	// Rig is the rig the skeleton frames are mapped with
	Rig skeleton.Rig
	// Tentacles draws alien limbs as tapered outlines instead of ellipses
	Tentacles bool
	// Asset loads the joint hierarchy used by rig puppets
	Asset *AssetLoader
	// DefaultScale is the head size in pixels used until the eyes are seen
	DefaultScale float64
}

// DefaultPuppetOptions returns options for the 2D alien
func DefaultPuppetOptions() PuppetOptions {
	return PuppetOptions{
		Variant:      VariantAlien,
		Rig:          skeleton.Sketch2D(),
		DefaultScale: 60,
	}
}

// NewFactory returns the puppet factory used by the tracker registry
func NewFactory(opts PuppetOptions) tracker.Factory[Puppet] {

	return func(ctx context.Context, id int64) (Puppet, error) {

		switch opts.Variant {
		case VariantDots:
			return NewDots(id, opts.Rig), nil

		case VariantEllipsoid:
			return NewEllipsoid(id, opts.Rig, opts.DefaultScale), nil

		case VariantRig:
			if opts.Asset == nil {
				return nil, fmt.Errorf("rig puppet requires a rig asset")
			}

			asset, err := opts.Asset.Load(ctx)

			if err != nil {
				return nil, err
			}

			return NewRigPuppet(id, asset, opts.Rig, opts.DefaultScale), nil

		case VariantAlien, "":
			return NewAlien(id, opts.Rig, opts.DefaultScale, opts.Tentacles), nil
		}

		return nil, fmt.Errorf("unknown puppet variant: %q", opts.Variant)
	}
}

// View converts rig space into the pixels of the image being drawn
type View struct {
	Width   int
	Height  int
	Space   skeleton.Space
	Divisor float64
}

// NewView returns the view of a rig onto an image
func NewView(rig skeleton.Rig, img *gocv.Mat) View {
	return View{
		Width:   img.Cols(),
		Height:  img.Rows(),
		Space:   rig.Space,
		Divisor: rig.Divisor,
	}
}

// units returns the number of pixels per rig space unit
func (v View) units() float64 {
	if v.Space == skeleton.SpaceCentered && v.Divisor > 0 {
		return v.Divisor
	}
	return 1
}

// ToPixel converts a rig space point into image pixels
func (v View) ToPixel(p skeleton.Point) image.Point {

	if v.Space == skeleton.SpaceCentered {
		d := v.units()

		return image.Pt(
			int(math.Round(p.X*d+float64(v.Width)/2)),
			int(math.Round(float64(v.Height)/2-p.Y*d)),
		)
	}

	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// PixelAngle converts a rig space direction into image pixel space, where y
// points down
func (v View) PixelAngle(angle float64) float64 {
	if v.Space == skeleton.SpaceCentered {
		return -angle
	}
	return angle
}

// ToRigLength converts a pixel length into rig space units
func (v View) ToRigLength(pixels float64) float64 {
	return pixels / v.units()
}

// degrees converts radians for the gocv drawing functions
func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// headSize returns the frame's head size, falling back to the last known or
// default size when the eyes were not seen
func headSize(f skeleton.Frame, last, def float64) float64 {
	if f.Scale > 0 {
		return f.Scale
	}
	if last > 0 {
		return last
	}
	return def
}
