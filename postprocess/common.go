package postprocess

import (
	"math"
	"sort"
)

// box is a candidate detection in model input coordinates
type box struct {
	x1, y1, x2, y2 float64
	score          float64
	// anchor is the column of the model output the box was decoded from
	anchor int
}

// sigmoid converts a logit into a probability
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// sortByScore orders the candidate boxes highest score first
func sortByScore(boxes []box) {
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].score > boxes[j].score
	})
}

// nms implements a Non-Maximum Suppression (NMS) algorithm over boxes that
// are sorted by descending score, returning those kept
func nms(boxes []box, threshold float64, limit int) []box {

	suppressed := make([]bool, len(boxes))
	kept := make([]box, 0, len(boxes))

	for i := range boxes {
		if suppressed[i] {
			continue
		}

		kept = append(kept, boxes[i])

		if limit > 0 && len(kept) >= limit {
			break
		}

		for j := i + 1; j < len(boxes); j++ {
			if suppressed[j] {
				continue
			}

			if calculateOverlap(boxes[i], boxes[j]) > threshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// calculateOverlap works out the Intersection of Union (IoU) value of two
// boxes using inclusive pixel bounds
func calculateOverlap(a, b box) float64 {

	w := math.Max(0.0, math.Min(a.x2, b.x2)-math.Max(a.x1, b.x1)+1.0)
	h := math.Max(0.0, math.Min(a.y2, b.y2)-math.Max(a.y1, b.y1)+1.0)
	intersection := w * h

	area0 := (a.x2 - a.x1 + 1) * (a.y2 - a.y1 + 1)
	area1 := (b.x2 - b.x1 + 1) * (b.y2 - b.y1 + 1)

	union := area0 + area1 - intersection

	if union <= 0 {
		return 0.0
	}

	return intersection / union
}
