// Package postprocess decodes raw pose model outputs into poses.
package postprocess

import (
	"fmt"

	pp "github.com/swdee/go-posepuppet"
)

// CoordMapper maps a point from model input coordinates back onto the
// camera frame, implemented by preprocess.Resizer
type CoordMapper interface {
	ToSource(x, y float64) (float64, float64)
}

// YOLOv8Pose decodes the output of a YOLOv8-pose model exported to ONNX
type YOLOv8Pose struct {
	// Params are the Model configuration parameters
	Params YOLOv8PoseParams
}

// YOLOv8PoseParams defines the struct containing the YOLOv8 parameters to use
// for post processing operations
type YOLOv8PoseParams struct {
	// BoxThreshold is the minimum person score for a candidate to be
	// considered for processing
	BoxThreshold float64
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed Intersection Over Union (IoU) between two
	// person boxes for both to be kept
	NMSThreshold float64
	// MaxObjectNumber is the maximum number of poses that can be returned
	MaxObjectNumber int
	// KeyPointsNumber is the number of COCO keypoints the model is trained on
	KeyPointsNumber int
	// KeyPointLogits is set when the model outputs keypoint visibility as
	// raw logits rather than probabilities
	KeyPointLogits bool
}

// YOLOv8PoseCOCOParams returns an instance of YOLOv8PoseParams configured
// with default values for a Model trained on the COCO keypoints dataset
// featuring:
// - Box Threshold: 0.5
// - NMS Threshold: 0.45
// - Maximum Object Number: 64
// - KeyPoints Number: 17
func YOLOv8PoseCOCOParams() YOLOv8PoseParams {
	return YOLOv8PoseParams{
		BoxThreshold:    0.5,
		NMSThreshold:    0.45,
		MaxObjectNumber: 64,
		KeyPointsNumber: pp.PartsTotal,
	}
}

// NewYOLOv8Pose returns an instance of the YOLOv8Pose post processor
func NewYOLOv8Pose(p YOLOv8PoseParams) *YOLOv8Pose {
	return &YOLOv8Pose{
		Params: p,
	}
}

// Channels returns the number of output rows per anchor the model must
// produce, 4 box values, 1 person score and 3 values per keypoint
func (y *YOLOv8Pose) Channels() int {
	return 5 + 3*y.Params.KeyPointsNumber
}

// Decode converts the channel major model output of shape
// [1, Channels, anchors] into poses mapped onto the camera frame.  Poses
// carry no ID, identities are assigned by the tracker
func (y *YOLOv8Pose) Decode(data []float32, anchors int,
	mapper CoordMapper) ([]pp.Pose, error) {

	channels := y.Channels()

	if anchors <= 0 || len(data) < channels*anchors {
		return nil, fmt.Errorf("output of %d values does not fit %d channels by %d anchors",
			len(data), channels, anchors)
	}

	at := func(c, a int) float64 {
		return float64(data[c*anchors+a])
	}

	var boxes []box

	for a := 0; a < anchors; a++ {
		score := at(4, a)

		if score < y.Params.BoxThreshold {
			continue
		}

		cx, cy := at(0, a), at(1, a)
		w, h := at(2, a), at(3, a)

		boxes = append(boxes, box{
			x1:     cx - w/2,
			y1:     cy - h/2,
			x2:     cx + w/2,
			y2:     cy + h/2,
			score:  score,
			anchor: a,
		})
	}

	if len(boxes) == 0 {
		// no person detected
		return []pp.Pose{}, nil
	}

	sortByScore(boxes)
	boxes = nms(boxes, y.Params.NMSThreshold, y.Params.MaxObjectNumber)

	poses := make([]pp.Pose, 0, len(boxes))

	for _, b := range boxes {
		kps := make([]pp.Keypoint, 0, y.Params.KeyPointsNumber)

		for j := 0; j < y.Params.KeyPointsNumber && j < pp.PartsTotal; j++ {
			base := 5 + j*3

			kx, ky := at(base, b.anchor), at(base+1, b.anchor)
			vis := at(base+2, b.anchor)

			if y.Params.KeyPointLogits {
				vis = sigmoid(vis)
			}

			if mapper != nil {
				kx, ky = mapper.ToSource(kx, ky)
			}

			kps = append(kps, pp.Keypoint{
				Part:  pp.Part(j),
				X:     kx,
				Y:     ky,
				Score: vis,
			})
		}

		poses = append(poses, pp.NewPose(0, b.score, kps...))
	}

	return poses, nil
}
