package render

import "image/color"

var (
	// idColors tell identities apart in trails and labels
	idColors = []color.RGBA{
		{R: 255, G: 56, B: 56, A: 255},   // #FF3838
		{R: 255, G: 112, B: 31, A: 255},  // #FF701F
		{R: 255, G: 178, B: 29, A: 255},  // #FFB21D
		{R: 207, G: 210, B: 49, A: 255},  // #CFD231
		{R: 72, G: 249, B: 10, A: 255},   // #48F90A
		{R: 26, G: 147, B: 52, A: 255},   // #1A9334
		{R: 0, G: 212, B: 187, A: 255},   // #00D4BB
		{R: 0, G: 194, B: 255, A: 255},   // #00C2FF
		{R: 52, G: 69, B: 147, A: 255},   // #344593
		{R: 100, G: 115, B: 255, A: 255}, // #6473FF
		{R: 0, G: 24, B: 236, A: 255},    // #0018EC
		{R: 132, G: 56, B: 255, A: 255},  // #8438FF
		{R: 82, G: 0, B: 133, A: 255},    // #520085
		{R: 255, G: 149, B: 200, A: 255}, // #FF95C8
		{R: 255, G: 55, B: 199, A: 255},  // #FF37C7
		{R: 255, G: 157, B: 151, A: 255}, // #FF9D97
		{R: 44, G: 153, B: 168, A: 255},  // #2C99A8
		{R: 61, G: 219, B: 134, A: 255},  // #3DDB86
		{R: 203, G: 56, B: 255, A: 255},  // #CB38FF
		{R: 146, G: 204, B: 23, A: 255},  // #92CC17
	}

	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 50, A: 255}
	Pink   = color.RGBA{R: 255, G: 0, B: 255, A: 255}

	// body region colours of the keypoint overlay
	legColor   = color.RGBA{R: 255, G: 128, B: 0, A: 255}
	torsoColor = color.RGBA{R: 255, G: 51, B: 255, A: 255}
	armColor   = color.RGBA{R: 51, G: 153, B: 255, A: 255}
	faceColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}

	// keyPointColors are indexed by Part: face, arms then legs
	keyPointColors = []color.RGBA{
		faceColor, faceColor, faceColor, faceColor, faceColor,
		armColor, armColor, armColor, armColor, armColor, armColor,
		legColor, legColor, legColor, legColor, legColor, legColor,
	}

	// limbColors are indexed by skeletonLines
	limbColors = []color.RGBA{
		legColor, legColor, legColor, legColor,
		torsoColor, torsoColor, torsoColor,
		armColor, armColor, armColor, armColor, armColor,
		faceColor, faceColor, faceColor, faceColor, faceColor, faceColor, faceColor,
	}

	// alien colours of the 2D puppet
	alienHead  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	alienBody  = color.RGBA{R: 0, G: 240, B: 0, A: 255}
	alienArm   = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	alienLeg   = color.RGBA{R: 0, G: 220, B: 0, A: 255}
	alienHand  = color.RGBA{R: 0, G: 160, B: 0, A: 255}
	alienFoot  = color.RGBA{R: 0, G: 180, B: 0, A: 255}
	alienEye   = Black
	alienMouth = White
)

// IDColor returns the colour used for an identity's trail and label
func IDColor(id int64) color.RGBA {
	if id < 0 {
		id = -id
	}
	return idColors[id%int64(len(idColors))]
}
