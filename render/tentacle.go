package render

import (
	"image"

	clipper "github.com/ctessum/go.clipper"
)

// tentacle returns the outline polygons of a limb chain drawn as a tentacle
// tapering from width at the first point to width*taper at the last.  Each
// segment is split into steps pieces that are offset with round ends so the
// pieces overlap into one smooth shape
func tentacle(pts []image.Point, width, taper float64, steps int) [][]image.Point {

	if len(pts) < 2 || width <= 0 || steps < 1 {
		return nil
	}

	segments := len(pts) - 1
	total := float64(segments * steps)

	var out [][]image.Point

	for i := 0; i < segments; i++ {
		a, b := pts[i], pts[i+1]

		for s := 0; s < steps; s++ {
			p0 := lerpPoint(a, b, float64(s)/float64(steps))
			p1 := lerpPoint(a, b, float64(s+1)/float64(steps))

			// width at the start of this piece
			t := float64(i*steps+s) / total
			w := width * (1 - (1-taper)*t)

			path := clipper.Path{
				&clipper.IntPoint{X: clipper.CInt(p0.X), Y: clipper.CInt(p0.Y)},
				&clipper.IntPoint{X: clipper.CInt(p1.X), Y: clipper.CInt(p1.Y)},
			}

			co := clipper.NewClipperOffset()
			co.AddPath(path, clipper.JtRound, clipper.EtOpenRound)

			for _, sol := range co.Execute(w / 2) {
				poly := make([]image.Point, 0, len(sol))

				for _, pt := range sol {
					poly = append(poly, image.Pt(int(pt.X), int(pt.Y)))
				}

				if len(poly) >= 3 {
					out = append(out, poly)
				}
			}
		}
	}

	return out
}

// lerpPoint returns the point t of the way from a to b
func lerpPoint(a, b image.Point, t float64) image.Point {
	return image.Pt(
		a.X+int(float64(b.X-a.X)*t),
		a.Y+int(float64(b.Y-a.Y)*t),
	)
}
