package render

import (
	"image"
	"testing"
)

// extent returns the largest absolute y of the polygon points
func extent(poly []image.Point) int {
	m := 0
	for _, p := range poly {
		y := p.Y
		if y < 0 {
			y = -y
		}
		if y > m {
			m = y
		}
	}
	return m
}

func TestTentacleOutline(t *testing.T) {

	pts := []image.Point{{X: 0, Y: 0}, {X: 100, Y: 0}}

	polys := tentacle(pts, 20, 1, 2)

	if len(polys) == 0 {
		t.Fatal("expected outline polygons")
	}

	for _, poly := range polys {
		for _, p := range poly {
			if p.X < -11 || p.X > 111 || p.Y < -11 || p.Y > 11 {
				t.Fatalf("outline point %v outside limb bounds", p)
			}
		}
	}
}

func TestTentacleTapers(t *testing.T) {

	pts := []image.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 200, Y: 0}}

	polys := tentacle(pts, 40, 0.25, 4)

	if len(polys) < 2 {
		t.Fatalf("expected a polygon per piece, got %d", len(polys))
	}

	first := extent(polys[0])
	last := extent(polys[len(polys)-1])

	if last >= first {
		t.Errorf("expected tentacle to taper, first half width %d last %d", first, last)
	}
}

func TestTentacleInvalid(t *testing.T) {

	if got := tentacle([]image.Point{{X: 1, Y: 1}}, 10, 1, 2); got != nil {
		t.Error("expected no outline for a single point")
	}

	if got := tentacle([]image.Point{{}, {X: 10}}, 0, 1, 2); got != nil {
		t.Error("expected no outline for zero width")
	}
}

func TestLerpPoint(t *testing.T) {

	if got := lerpPoint(image.Pt(0, 0), image.Pt(10, 20), 0.5); got != image.Pt(5, 10) {
		t.Errorf("lerp midpoint = %v, want (5,10)", got)
	}
}
