package skeleton

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// AnchorMode selects the keypoint the puppet root is placed at
type AnchorMode string

const (
	// AnchorNose places the root at the nose, used by the 2D puppets
	AnchorNose AnchorMode = "nose"
	// AnchorShoulders places the root at the shoulder midpoint, used by
	// rigged puppets whose root joint is the hips/spine
	AnchorShoulders AnchorMode = "shoulders"
)

// Space selects the coordinate space bones and anchors are expressed in
type Space string

const (
	// SpacePixel keeps frame pixel coordinates, y down
	SpacePixel Space = "pixel"
	// SpaceCentered moves the origin to the frame centre, flips y to point
	// up and divides by the rig's Divisor.  This is the scene space of the
	// 3D puppets
	SpaceCentered Space = "centered"
)

// BoneRest defines how a computed angle is adjusted to match the puppet's
// rest orientation: angle' = sign*angle + Offset where sign is -1 when
// Negate is set
type BoneRest struct {
	// Joint is the name of the rig joint the bone drives, eg: mixamorigLeftArm
	Joint  string  `yaml:"joint"`
	Negate bool    `yaml:"negate"`
	Offset float64 `yaml:"offset"`
}

// Apply returns the rest adjusted angle
func (r BoneRest) Apply(angle float64) float64 {
	if r.Negate {
		angle = -angle
	}
	return angle + r.Offset
}

// Invert returns the angle that Apply maps onto rotation
func (r BoneRest) Invert(rotation float64) float64 {
	angle := rotation - r.Offset
	if r.Negate {
		angle = -angle
	}
	return angle
}

// Rig is the per puppet configuration table used by the Mapper
type Rig struct {
	Name   string     `yaml:"name"`
	Anchor AnchorMode `yaml:"anchor"`
	Space  Space      `yaml:"space"`
	// Divisor scales centred space coordinates, eg: 5
	Divisor float64 `yaml:"divisor"`
	// ScaleFactor multiplies the eye distance to give the head size, which
	// keeps puppet scale independent of the subject's distance from camera
	ScaleFactor float64 `yaml:"scale_factor"`
	// Bones holds the rest adjustment per bone.  Bones not listed use the
	// raw angle
	Bones map[BoneName]BoneRest `yaml:"bones"`
}

// Rest returns the rest adjustment for the named bone
func (r Rig) Rest(name BoneName) BoneRest {
	if b, ok := r.Bones[name]; ok {
		return b
	}
	return BoneRest{Joint: string(name)}
}

// Validate checks the rig configuration is usable
func (r Rig) Validate() error {

	switch r.Anchor {
	case AnchorNose, AnchorShoulders:
	default:
		return fmt.Errorf("rig %s: unknown anchor mode %q", r.Name, r.Anchor)
	}

	switch r.Space {
	case SpacePixel:
	case SpaceCentered:
		if r.Divisor <= 0 {
			return fmt.Errorf("rig %s: centered space requires a positive divisor", r.Name)
		}
	default:
		return fmt.Errorf("rig %s: unknown space %q", r.Name, r.Space)
	}

	if r.ScaleFactor <= 0 {
		return fmt.Errorf("rig %s: scale factor must be positive", r.Name)
	}

	for name := range r.Bones {
		if _, err := SegmentFor(name); err != nil {
			return fmt.Errorf("rig %s: %w", r.Name, err)
		}
	}

	return nil
}

// Sketch2D returns the rig of the procedurally drawn 2D alien.  Angles are
// used as is in pixel space and the head is three eye distances wide
func Sketch2D() Rig {
	return Rig{
		Name:        "sketch2d",
		Anchor:      AnchorNose,
		Space:       SpacePixel,
		ScaleFactor: 3,
		Bones:       map[BoneName]BoneRest{},
	}
}

// Mixamo returns the rig of the Mixamo humanoid (Xbot) model.  Limb bones
// hang down in the rest pose so their angles are negated and rotated by a
// quarter turn
func Mixamo() Rig {

	limb := func(joint string) BoneRest {
		return BoneRest{Joint: joint, Negate: true, Offset: math.Pi / 2}
	}

	return Rig{
		Name:        "mixamo",
		Anchor:      AnchorShoulders,
		Space:       SpaceCentered,
		Divisor:     5,
		ScaleFactor: 4,
		Bones: map[BoneName]BoneRest{
			Head:          {Joint: "mixamorigHead"},
			Spine:         {Joint: "mixamorigSpine"},
			LeftUpperArm:  limb("mixamorigLeftArm"),
			LeftForearm:   limb("mixamorigLeftForeArm"),
			RightUpperArm: limb("mixamorigRightArm"),
			RightForearm:  limb("mixamorigRightForeArm"),
			LeftThigh:     limb("mixamorigLeftUpLeg"),
			LeftShin:      limb("mixamorigLeftLeg"),
			RightThigh:    limb("mixamorigRightUpLeg"),
			RightShin:     limb("mixamorigRightLeg"),
		},
	}
}

// RigByName returns a built in rig
func RigByName(name string) (Rig, error) {
	switch name {
	case "sketch2d", "":
		return Sketch2D(), nil
	case "mixamo":
		return Mixamo(), nil
	}
	return Rig{}, fmt.Errorf("unknown rig: %q", name)
}

// LoadRig reads a rig definition from a YAML file
func LoadRig(file string) (Rig, error) {

	data, err := os.ReadFile(file)

	if err != nil {
		return Rig{}, fmt.Errorf("error reading rig file: %w", err)
	}

	var r Rig

	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rig{}, fmt.Errorf("error parsing rig file: %w", err)
	}

	if r.Bones == nil {
		r.Bones = map[BoneName]BoneRest{}
	}

	if err := r.Validate(); err != nil {
		return Rig{}, err
	}

	return r, nil
}
