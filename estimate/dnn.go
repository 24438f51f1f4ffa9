// Package estimate provides the pose estimation backends: an OpenCV DNN
// YOLOv8-pose model, an external worker process and a recorded replay.
package estimate

import (
	"context"
	"fmt"
	"os"
	"sync"

	pp "github.com/swdee/go-posepuppet"
	"github.com/swdee/go-posepuppet/postprocess"
	"github.com/swdee/go-posepuppet/preprocess"
	"gocv.io/x/gocv"
)

// DNNParams defines the OpenCV DNN backend settings
type DNNParams struct {
	// ModelFile is the YOLOv8-pose ONNX model
	ModelFile string
	// InputSize is the square model input dimension
	InputSize int
	// Backend is the OpenCV DNN backend, eg: default, openvino, cuda
	Backend string
	// Target is the OpenCV DNN target, eg: cpu, fp16, cuda
	Target string
	// Pose are the decoding parameters
	Pose postprocess.YOLOv8PoseParams
}

// DNNDefaultParams returns settings for a 640x640 YOLOv8-pose model on the
// CPU
func DNNDefaultParams() DNNParams {
	return DNNParams{
		InputSize: 640,
		Backend:   "default",
		Target:    "cpu",
		Pose:      postprocess.YOLOv8PoseCOCOParams(),
	}
}

// DNN is an Estimator running a YOLOv8-pose model with the OpenCV DNN
// module.  A gocv Net is not safe for concurrent use, run several instances
// in a posepuppet.Pool for parallel inference
type DNN struct {
	params  DNNParams
	net     gocv.Net
	resizer *preprocess.Resizer
	decoder *postprocess.YOLOv8Pose
	sync.Mutex
}

// NewDNN loads the model
func NewDNN(p DNNParams) (*DNN, error) {

	if _, err := os.Stat(p.ModelFile); err != nil {
		return nil, fmt.Errorf("%w: %w", pp.ErrEstimatorUnavailable, err)
	}

	if p.InputSize <= 0 {
		return nil, fmt.Errorf("invalid model input size %d", p.InputSize)
	}

	net := gocv.ReadNetFromONNX(p.ModelFile)

	if net.Empty() {
		return nil, fmt.Errorf("%w: error reading model %s",
			pp.ErrEstimatorUnavailable, p.ModelFile)
	}

	if err := net.SetPreferableBackend(gocv.ParseNetBackend(p.Backend)); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set backend %s: %w", p.Backend, err)
	}

	if err := net.SetPreferableTarget(gocv.ParseNetTarget(p.Target)); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set target %s: %w", p.Target, err)
	}

	return &DNN{
		params: p,
		net:    net,
		// source size is set from the first frame
		resizer: preprocess.NewResizer(p.InputSize, p.InputSize, p.InputSize, p.InputSize),
		decoder: postprocess.NewYOLOv8Pose(p.Pose),
	}, nil
}

// Estimate runs the model on the frame
func (d *DNN) Estimate(ctx context.Context, frame gocv.Mat,
	opts pp.EstimateOptions) ([]pp.Pose, error) {

	if frame.Empty() {
		return nil, pp.ErrNoFrame
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.Lock()
	defer d.Unlock()

	d.resizer.SetSource(frame.Cols(), frame.Rows())

	blob := d.resizer.Blob(frame)
	defer blob.Close()

	d.net.SetInput(blob, "")

	out := d.net.Forward("")
	defer out.Close()

	// output shape is [1, channels, anchors]
	size := out.Size()

	if len(size) != 3 || size[1] != d.decoder.Channels() {
		return nil, fmt.Errorf("unexpected model output shape %v", size)
	}

	data, err := out.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}

	poses, err := d.decoder.Decode(data, size[2], d.resizer)

	if err != nil {
		return nil, err
	}

	return pp.ApplyOptions(poses, opts, frame.Cols()), nil
}

// Close frees the model
func (d *DNN) Close() error {
	d.Lock()
	defer d.Unlock()

	d.resizer.Close()
	return d.net.Close()
}
