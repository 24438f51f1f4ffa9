package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Labeler renders identity labels with the Go regular TTF face and
// composites them onto frames
type Labeler struct {
	face font.Face
	// Padding around the text in pixels
	Padding int
	// Color of the text
	Color color.RGBA
	sync.Mutex
}

// NewLabeler returns a labeler drawing text at the given point size
func NewLabeler(size float64) (*Labeler, error) {

	f, err := opentype.Parse(goregular.TTF)

	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create type face: %w", err)
	}

	return &Labeler{
		face:    face,
		Padding: 3,
		Color:   Black,
	}, nil
}

// Render draws text onto a new image filled with bg and sized to fit
func (l *Labeler) Render(text string, bg color.RGBA) *image.RGBA {
	l.Lock()
	defer l.Unlock()

	metrics := l.face.Metrics()
	width := font.MeasureString(l.face, text).Ceil() + 2*l.Padding
	height := (metrics.Ascent + metrics.Descent).Ceil() + 2*l.Padding

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	dr := &font.Drawer{
		Dst:  rgba,
		Src:  image.NewUniform(l.Color),
		Face: l.face,
		Dot: fixed.Point26_6{
			X: fixed.I(l.Padding),
			Y: fixed.I(l.Padding) + metrics.Ascent,
		},
	}
	dr.DrawString(text)

	return rgba
}

// Draw renders text with its bottom left corner at pt, clipped to the image
func (l *Labeler) Draw(img *gocv.Mat, text string, pt image.Point, bg color.RGBA) error {

	rgba := l.Render(text, bg)
	size := rgba.Bounds().Size()

	at := image.Pt(pt.X, pt.Y-size.Y)
	dst := image.Rectangle{Min: at, Max: at.Add(size)}.
		Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))

	if dst.Empty() {
		return nil
	}

	lbl, err := gocv.ImageToMatRGB(rgba)

	if err != nil {
		return fmt.Errorf("error converting label to Mat: %w", err)
	}

	defer lbl.Close()

	src := lbl.Region(dst.Sub(at))
	defer src.Close()

	region := img.Region(dst)
	defer region.Close()

	src.CopyTo(&region)

	return nil
}

// Close releases the font face
func (l *Labeler) Close() error {
	return l.face.Close()
}
