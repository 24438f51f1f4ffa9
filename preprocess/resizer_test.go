package preprocess

import (
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func TestLetterBoxResize(t *testing.T) {

	tests := []struct {
		srcWidth      int
		srcHeight     int
		resizeWidth   int
		resizeHeight  int
		expectedXPad  int
		expectedYPad  int
		expectedScale float64
	}{
		{1280, 720, 640, 640, 0, 140, 0.50},
		{800, 1000, 640, 640, 64, 0, 0.64},
		{800, 800, 640, 640, 0, 0, 0.8},
	}

	for _, tc := range tests {
		img := gocv.NewMatWithSize(tc.srcHeight, tc.srcWidth, gocv.MatTypeCV8UC3)

		resizedImg := gocv.NewMat()

		resizer := NewResizer(tc.srcWidth, tc.srcHeight, tc.resizeWidth, tc.resizeHeight)

		resizer.LetterBoxResize(img, &resizedImg, Padding)

		if resizer.XPad() != tc.expectedXPad || resizer.YPad() != tc.expectedYPad {
			t.Errorf("src (%d, %d): expected XPad=%d, YPad=%d, got xPad=%d, yPad=%d",
				tc.srcWidth, tc.srcHeight, tc.expectedXPad, tc.expectedYPad,
				resizer.XPad(), resizer.YPad())
		}

		if math.Abs(resizer.ScaleFactor()-tc.expectedScale) > 1e-9 {
			t.Errorf("src (%d, %d): expected scale %f, got %f",
				tc.srcWidth, tc.srcHeight, tc.expectedScale, resizer.ScaleFactor())
		}

		if resizedImg.Cols() != tc.resizeWidth || resizedImg.Rows() != tc.resizeHeight {
			t.Errorf("src (%d, %d): expected output %dx%d, got %dx%d",
				tc.srcWidth, tc.srcHeight, tc.resizeWidth, tc.resizeHeight,
				resizedImg.Cols(), resizedImg.Rows())
		}

		img.Close()
		resizedImg.Close()
		resizer.Close()
	}
}

func TestToSource(t *testing.T) {

	r := NewResizer(1280, 720, 640, 640)
	defer r.Close()

	// model centre is the frame centre
	x, y := r.ToSource(320, 320)

	if x != 640 || y != 360 {
		t.Errorf("expected 640,360 got %f,%f", x, y)
	}

	// points in the padding clamp to the frame
	x, y = r.ToSource(-10, 10)

	if x != 0 || y != 0 {
		t.Errorf("expected clamp to 0,0 got %f,%f", x, y)
	}

	r.SetSource(640, 640)

	x, y = r.ToSource(100, 200)

	if x != 100 || y != 200 || r.YPad() != 0 {
		t.Errorf("expected identity mapping after SetSource, got %f,%f", x, y)
	}
}
