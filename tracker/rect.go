package tracker

import (
	"math"

	pp "github.com/swdee/go-posepuppet"
)

// Rect represents a rectangle in top-left, width, height format
type Rect struct {
	X, Y, Width, Height float64
}

// NewRect creates a new Rect with given coordinates
func NewRect(x, y, width, height float64) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// RectFromPose returns the box around the pose keypoints scored at or above
// threshold.  ok is false when the pose has fewer than two such keypoints
func RectFromPose(p pp.Pose, threshold float64) (Rect, bool) {

	x1, y1, x2, y2, ok := p.Bounds(threshold)

	if !ok {
		return Rect{}, false
	}

	return NewRect(x1, y1, x2-x1, y2-y1), true
}

// BRX returns the bottom-right x coordinate of the rectangle
func (r Rect) BRX() float64 {
	return r.X + r.Width
}

// BRY returns the bottom-right y coordinate of the rectangle
func (r Rect) BRY() float64 {
	return r.Y + r.Height
}

// Center returns the centre point of the rectangle
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// CalcIoU calculates the Intersection over Union (IoU) with another
// rectangle, using inclusive pixel bounds so degenerate boxes of a single
// line of keypoints still overlap
func (r Rect) CalcIoU(other Rect) float64 {

	iw := math.Min(r.BRX(), other.BRX()) - math.Max(r.X, other.X) + 1

	if iw <= 0 {
		return 0
	}

	ih := math.Min(r.BRY(), other.BRY()) - math.Max(r.Y, other.Y) + 1

	if ih <= 0 {
		return 0
	}

	ua := (r.Width+1)*(r.Height+1) + (other.Width+1)*(other.Height+1) - iw*ih

	return iw * ih / ua
}
