package render

import (
	"image"
	"image/color"
	"math/rand"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultStars is the number of stars in the backdrop
const DefaultStars = 200

// star is a backdrop point with its radius and brightness
type star struct {
	pt     image.Point
	radius int
	clr    color.RGBA
}

// Starfield is a black backdrop scattered with stars.  The stars are placed
// randomly for a frame size and regenerated when the size changes
type Starfield struct {
	count  int
	rnd    *rand.Rand
	width  int
	height int
	stars  []star
	sync.Mutex
}

// NewStarfield returns a starfield of count stars using seed for placement
func NewStarfield(count int, seed int64) *Starfield {
	return &Starfield{
		count: count,
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

// resize places the stars for a new frame size
func (s *Starfield) resize(width, height int) {

	s.width = width
	s.height = height
	s.stars = make([]star, s.count)

	if width <= 0 || height <= 0 {
		s.stars = nil
		return
	}

	for i := range s.stars {
		v := uint8(128 + s.rnd.Intn(128))

		s.stars[i] = star{
			pt:     image.Pt(s.rnd.Intn(width), s.rnd.Intn(height)),
			radius: 1 + s.rnd.Intn(2),
			clr:    color.RGBA{R: v, G: v, B: v, A: 255},
		}
	}
}

// Points returns the star positions for a frame size, regenerating them
// if the size differs from the last call
func (s *Starfield) Points(width, height int) []image.Point {
	s.Lock()
	defer s.Unlock()

	if width != s.width || height != s.height || s.stars == nil {
		s.resize(width, height)
	}

	pts := make([]image.Point, len(s.stars))

	for i, st := range s.stars {
		pts[i] = st.pt
	}

	return pts
}

// Draw fills img with black and draws the stars
func (s *Starfield) Draw(img *gocv.Mat) {
	s.Lock()
	defer s.Unlock()

	if img.Cols() != s.width || img.Rows() != s.height || s.stars == nil {
		s.resize(img.Cols(), img.Rows())
	}

	img.SetTo(gocv.NewScalar(0, 0, 0, 0))

	for _, st := range s.stars {
		gocv.Circle(img, st.pt, st.radius, st.clr, -1)
	}
}
