package estimate

import (
	"context"
	"errors"
	"os"
	"testing"

	pp "github.com/swdee/go-posepuppet"
	"gocv.io/x/gocv"
)

const (
	modelFile = "../example/data/yolov8n-pose.onnx"
	imgFile   = "../example/data/person.jpg"
)

func TestNewDNNMissingModel(t *testing.T) {

	p := DNNDefaultParams()
	p.ModelFile = "missing.onnx"

	_, err := NewDNN(p)

	if !errors.Is(err, pp.ErrEstimatorUnavailable) {
		t.Errorf("expected ErrEstimatorUnavailable, got %v", err)
	}
}

func TestDNNEstimate(t *testing.T) {

	for _, f := range []string{modelFile, imgFile} {
		if _, err := os.Stat(f); err != nil {
			t.Skipf("%s not available", f)
		}
	}

	p := DNNDefaultParams()
	p.ModelFile = modelFile

	dnn, err := NewDNN(p)

	if err != nil {
		t.Fatalf("error loading model: %v", err)
	}

	defer dnn.Close()

	img := gocv.IMRead(imgFile, gocv.IMReadColor)
	defer img.Close()

	poses, err := dnn.Estimate(context.Background(), img, pp.DefaultEstimateOptions())

	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	if len(poses) == 0 {
		t.Fatal("expected at least one person")
	}

	for _, pose := range poses {
		x1, y1, x2, y2, ok := pose.Bounds(0.5)

		if !ok {
			continue
		}

		if x1 < 0 || y1 < 0 || x2 > float64(img.Cols()) || y2 > float64(img.Rows()) {
			t.Errorf("pose outside image: %f,%f %f,%f", x1, y1, x2, y2)
		}
	}
}
