package render

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// JointDef is one joint of a rig asset's hierarchy.  Directions are radians
// in a y up frame, relative to the parent's world direction, or absolute
// for the root joint
type JointDef struct {
	Name string `yaml:"name"`
	// Parent is the name of the parent joint, empty for the root
	Parent string `yaml:"parent"`
	// Direction is the rest direction of the joint relative to its parent
	Direction float64 `yaml:"direction"`
	// Length of the joint in head sizes
	Length float64 `yaml:"length"`
	// Width of the drawn limb in head sizes
	Width float64 `yaml:"width"`
	// DriveOffset is added to the bone direction of a driven joint to give
	// the joint direction
	DriveOffset float64 `yaml:"drive_offset"`
	// Hidden joints position their children but are not drawn
	Hidden bool `yaml:"hidden"`
}

// RigAsset is a joint hierarchy a rig puppet is posed with.  Joints are
// ordered so parents come before their children
type RigAsset struct {
	Name   string     `yaml:"name"`
	Joints []JointDef `yaml:"joints"`
}

// Validate checks the hierarchy has a single root and that every parent is
// defined before its children
func (a *RigAsset) Validate() error {

	if len(a.Joints) == 0 {
		return fmt.Errorf("rig asset %s has no joints", a.Name)
	}

	seen := make(map[string]bool, len(a.Joints))

	for i, j := range a.Joints {
		if j.Name == "" {
			return fmt.Errorf("rig asset %s: joint %d has no name", a.Name, i)
		}

		if seen[j.Name] {
			return fmt.Errorf("rig asset %s: duplicate joint %s", a.Name, j.Name)
		}

		if i == 0 && j.Parent != "" {
			return fmt.Errorf("rig asset %s: first joint must be the root", a.Name)
		}

		if i > 0 && !seen[j.Parent] {
			return fmt.Errorf("rig asset %s: joint %s parent %q not defined before it",
				a.Name, j.Name, j.Parent)
		}

		if j.Length < 0 || j.Width < 0 {
			return fmt.Errorf("rig asset %s: joint %s has negative size", a.Name, j.Name)
		}

		seen[j.Name] = true
	}

	return nil
}

// LoadRigAsset reads a rig asset from a YAML file
func LoadRigAsset(file string) (*RigAsset, error) {

	data, err := os.ReadFile(file)

	if err != nil {
		return nil, fmt.Errorf("error reading rig asset: %w", err)
	}

	a := &RigAsset{}

	if err := yaml.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("error parsing rig asset: %w", err)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}

	return a, nil
}

// XbotAsset returns the built in joint hierarchy of the Mixamo Xbot, using
// the Mixamo joint names so it is driven by the mixamo rig
func XbotAsset() *RigAsset {

	const (
		up   = math.Pi / 2
		down = -math.Pi / 2
	)

	return &RigAsset{
		Name: "xbot",
		Joints: []JointDef{
			// root sits at the shoulder midpoint and tilts with the shoulders
			{Name: "mixamorigSpine", Direction: up, DriveOffset: down, Hidden: true},
			{Name: "mixamorigNeck", Parent: "mixamorigSpine", Length: 0.3, Width: 0.3},
			{Name: "mixamorigHead", Parent: "mixamorigNeck", Length: 1, Width: 0.8, DriveOffset: down},

			{Name: "mixamorigLeftShoulder", Parent: "mixamorigSpine", Direction: down, Length: 0.8, Width: 0.35},
			{Name: "mixamorigLeftArm", Parent: "mixamorigLeftShoulder", Direction: down, Length: 1.3, Width: 0.3},
			{Name: "mixamorigLeftForeArm", Parent: "mixamorigLeftArm", Length: 1.2, Width: 0.25},

			{Name: "mixamorigRightShoulder", Parent: "mixamorigSpine", Direction: up, Length: 0.8, Width: 0.35},
			{Name: "mixamorigRightArm", Parent: "mixamorigRightShoulder", Direction: up, Length: 1.3, Width: 0.3},
			{Name: "mixamorigRightForeArm", Parent: "mixamorigRightArm", Length: 1.2, Width: 0.25},

			{Name: "mixamorigHips", Parent: "mixamorigSpine", Direction: math.Pi, Length: 2.6, Width: 1.3},

			{Name: "mixamorigLeftHip", Parent: "mixamorigHips", Direction: up, Length: 0.5, Hidden: true},
			{Name: "mixamorigLeftUpLeg", Parent: "mixamorigLeftHip", Direction: down, Length: 1.9, Width: 0.4},
			{Name: "mixamorigLeftLeg", Parent: "mixamorigLeftUpLeg", Length: 1.9, Width: 0.3},

			{Name: "mixamorigRightHip", Parent: "mixamorigHips", Direction: down, Length: 0.5, Hidden: true},
			{Name: "mixamorigRightUpLeg", Parent: "mixamorigRightHip", Direction: up, Length: 1.9, Width: 0.4},
			{Name: "mixamorigRightLeg", Parent: "mixamorigRightUpLeg", Length: 1.9, Width: 0.3},
		},
	}
}

// AssetLoader loads a rig asset once and shares it between every puppet
type AssetLoader struct {
	// File is the YAML asset to load, the built in Xbot is used when empty
	File  string
	once  sync.Once
	asset *RigAsset
	err   error
}

// NewAssetLoader returns a loader for the asset file
func NewAssetLoader(file string) *AssetLoader {
	return &AssetLoader{File: file}
}

// Load returns the shared asset, loading it on the first call
func (l *AssetLoader) Load(ctx context.Context) (*RigAsset, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.once.Do(func() {
		if l.File == "" {
			l.asset = XbotAsset()
			return
		}

		l.asset, l.err = LoadRigAsset(l.File)
	})

	return l.asset, l.err
}
