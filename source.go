package posepuppet

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

var (
	// ErrCameraUnavailable is returned when the video device can not be
	// opened, eg: permission denied or no such device
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrNoFrame is returned when the video source produced an empty frame
	ErrNoFrame = errors.New("no frame available")
)

// VideoSource provides frames from a camera, video file or stream
type VideoSource interface {
	// Read the next frame into img
	Read(img *gocv.Mat) error
	// Size returns the frame width and height in pixels
	Size() (int, int)
	// Close releases the underlying device
	Close() error
}

// Camera is a VideoSource backed by an OpenCV VideoCapture
type Camera struct {
	capture *gocv.VideoCapture
	width   int
	height  int
	// file is true when reading from a video file rather than a live device
	file  bool
	close sync.Once
}

// CameraParams defines the capture settings requested from the device
type CameraParams struct {
	// Device is a camera index (eg: "0"), a video file path or a stream URL
	Device string
	// Width and Height request a capture resolution, zero keeps the default
	Width  int
	Height int
	// FPS requests a capture frame rate, zero keeps the default
	FPS float64
}

// DefaultCameraParams returns capture settings for the first camera device
func DefaultCameraParams() CameraParams {
	return CameraParams{
		Device: "0",
		Width:  640,
		Height: 480,
	}
}

// OpenCamera opens the video device and reads the first frame to learn the
// frame dimensions.  Failure to open or read is returned wrapping
// ErrCameraUnavailable
func OpenCamera(p CameraParams) (*Camera, error) {

	var (
		capture *gocv.VideoCapture
		err     error
		isFile  bool
	)

	if id, convErr := strconv.Atoi(p.Device); convErr == nil {
		capture, err = gocv.OpenVideoCapture(id)
	} else {
		capture, err = gocv.VideoCaptureFile(p.Device)
		isFile = true
	}

	if err != nil {
		return nil, fmt.Errorf("%w: error opening device %s: %v",
			ErrCameraUnavailable, p.Device, err)
	}

	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: device %s not opened", ErrCameraUnavailable,
			p.Device)
	}

	if p.Width > 0 && p.Height > 0 && !isFile {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(p.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(p.Height))
	}

	if p.FPS > 0 && !isFile {
		capture.Set(gocv.VideoCaptureFPS, p.FPS)
	}

	c := &Camera{
		capture: capture,
		file:    isFile,
		width:   int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}

	// some backends report zero until the first frame has been grabbed
	if c.width == 0 || c.height == 0 {
		first := gocv.NewMat()
		defer first.Close()

		if ok := capture.Read(&first); !ok || first.Empty() {
			capture.Close()
			return nil, fmt.Errorf("%w: device %s returned no frames",
				ErrCameraUnavailable, p.Device)
		}

		c.width = first.Cols()
		c.height = first.Rows()
	}

	return c, nil
}

// Read grabs the next frame.  When reading from a video file the capture is
// rewound at the end so the file loops like a live feed
func (c *Camera) Read(img *gocv.Mat) error {

	if ok := c.capture.Read(img); ok && !img.Empty() {
		return nil
	}

	if c.file {
		c.capture.Set(gocv.VideoCapturePosFrames, 0)

		if ok := c.capture.Read(img); ok && !img.Empty() {
			return nil
		}
	}

	return ErrNoFrame
}

// Size returns the frame width and height
func (c *Camera) Size() (int, int) {
	return c.width, c.height
}

// Close stops the capture and releases the device.  It is safe to call
// more than once
func (c *Camera) Close() error {

	var err error

	c.close.Do(func() {
		err = c.capture.Close()
	})

	return err
}
