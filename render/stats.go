package render

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Stats is the processing summary drawn across the top of a frame
type Stats struct {
	Frame   int
	FPS     float64
	Objects int
	// Lag is the age of the scene being drawn
	Lag time.Duration
	// per stage averages
	Capture   time.Duration
	Inference time.Duration
	Tracking  time.Duration
	Rendering time.Duration
	Total     time.Duration
}

// ms converts a duration to fractional milliseconds
func ms(d time.Duration) float32 {
	return float32(d) / float32(time.Millisecond)
}

// StatsLines returns the two overlay lines for the stats
func StatsLines(s Stats) [2]string {
	return [2]string{
		fmt.Sprintf("Frame: %d, FPS: %.2f, Lag: %dms, Objects: %d",
			s.Frame, s.FPS, s.Lag.Milliseconds(), s.Objects),
		fmt.Sprintf("Capture: %.2fms, Inference: %.2fms, Tracking: %.2fms, Rendering: %.2fms, Total Time: %.2fms",
			ms(s.Capture), ms(s.Inference), ms(s.Tracking), ms(s.Rendering), ms(s.Total)),
	}
}

// DrawStats blanks a bar across the top of the frame and writes the stats
// on it
func DrawStats(img *gocv.Mat, s Stats, f Font) {

	rect := image.Rect(0, 0, img.Cols(), 36)
	gocv.Rectangle(img, rect, Black, -1) // -1 fills the rectangle

	lines := StatsLines(s)

	f.Put(img, lines[0], image.Pt(4, 14))
	f.Put(img, lines[1], image.Pt(4, 30))
}
