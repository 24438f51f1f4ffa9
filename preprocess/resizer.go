// Package preprocess prepares camera frames for pose estimation models.
package preprocess

import (
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// Padding is the grey used by YOLO letterboxing
var Padding = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Resizer letterboxes camera frames into a model's square input while
// keeping aspect, and maps model coordinates back onto the camera frame
type Resizer struct {
	// srcWidth is the width of the camera frame
	srcWidth int
	// srcHeight is the height of the camera frame
	srcHeight int
	// destWidth is the model input width
	destWidth int
	// destHeight is the model input height
	destHeight int
	// tempMat holds the scaled frame before padding
	tempMat gocv.Mat
	// letterbox parameters
	xPad  int
	yPad  int
	scale float64
	// scaled frame dimensions before padding
	resizeW int
	resizeH int
	sync.Mutex
}

// NewResizer returns a resizer scaling frames of srcWidth x srcHeight into
// the model input of destWidth x destHeight
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	r := &Resizer{
		srcWidth:   srcWidth,
		srcHeight:  srcHeight,
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
	}

	r.preCalc()

	return r
}

// Close frees memory allocated during resize process
func (r *Resizer) Close() error {
	return r.tempMat.Close()
}

// preCalc the scaling factors for source and destination
func (r *Resizer) preCalc() {

	r.resizeW = r.destWidth
	r.resizeH = r.destHeight

	if r.srcWidth <= 0 || r.srcHeight <= 0 {
		r.scale = 1
		r.xPad, r.yPad = 0, 0
		return
	}

	scaleW := float64(r.destWidth) / float64(r.srcWidth)
	scaleH := float64(r.destHeight) / float64(r.srcHeight)
	r.scale = scaleH

	if scaleW < scaleH {
		r.scale = scaleW
		r.resizeH = int(float64(r.srcHeight) * r.scale)
	} else {
		r.resizeW = int(float64(r.srcWidth) * r.scale)
	}

	r.yPad = (r.destHeight - r.resizeH) / 2
	r.xPad = (r.destWidth - r.resizeW) / 2
}

// SetSource updates the camera frame size, eg: after the capture device was
// reopened at a different resolution.  It does nothing if the size is
// unchanged
func (r *Resizer) SetSource(width, height int) {
	r.Lock()
	defer r.Unlock()

	if width == r.srcWidth && height == r.srcHeight {
		return
	}

	r.srcWidth = width
	r.srcHeight = height
	r.preCalc()
}

// LetterBoxResize scales src into dest at the model input size, padding the
// unused border with the given colour
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, pad color.RGBA) {
	r.Lock()
	defer r.Unlock()

	gocv.Resize(src, &r.tempMat, image.Pt(r.resizeW, r.resizeH),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.tempMat, dest, r.yPad, r.destHeight-r.resizeH-r.yPad,
		r.xPad, r.destWidth-r.resizeW-r.xPad, gocv.BorderConstant, pad)
}

// Blob letterboxes src and returns the normalised NCHW RGB blob for a DNN
// model.  The caller must Close the returned Mat
func (r *Resizer) Blob(src gocv.Mat) gocv.Mat {

	boxed := gocv.NewMat()
	defer boxed.Close()

	r.LetterBoxResize(src, &boxed, Padding)

	return gocv.BlobFromImage(boxed, 1.0/255.0,
		image.Pt(r.destWidth, r.destHeight), gocv.NewScalar(0, 0, 0, 0),
		true, false)
}

// ToSource maps a point in model input coordinates back onto the camera
// frame, clamped to the frame bounds
func (r *Resizer) ToSource(x, y float64) (float64, float64) {
	r.Lock()
	defer r.Unlock()

	sx := (x - float64(r.xPad)) / r.scale
	sy := (y - float64(r.yPad)) / r.scale

	return clamp(sx, 0, float64(r.srcWidth-1)), clamp(sy, 0, float64(r.srcHeight-1))
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ScaleFactor returns the scale factor used in letterbox resize
func (r *Resizer) ScaleFactor() float64 {
	return r.scale
}

// XPad returns the x padding used in letterbox resize
func (r *Resizer) XPad() int {
	return r.xPad
}

// YPad returns the y padding used in letterbox resize
func (r *Resizer) YPad() int {
	return r.yPad
}

// SrcWidth returns the width of the camera frame
func (r *Resizer) SrcWidth() int {
	return r.srcWidth
}

// SrcHeight returns the height of the camera frame
func (r *Resizer) SrcHeight() int {
	return r.srcHeight
}
