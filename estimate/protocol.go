package estimate

import (
	"encoding/binary"
	"fmt"
	"io"

	pp "github.com/swdee/go-posepuppet"
	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize caps a single worker message, a 4K raw RGB frame is ~25MB
const maxMessageSize = 64 << 20

// frame pixel encodings understood by workers
const (
	EncodingJPEG = "jpeg"
	EncodingRaw  = "raw"
)

// wireOptions are the estimation options forwarded to the worker
type wireOptions struct {
	FlipHorizontal bool    `msgpack:"flip_horizontal"`
	Decoding       string  `msgpack:"decoding"`
	MaxDetections  int     `msgpack:"max_detections"`
	ScoreThreshold float64 `msgpack:"score_threshold"`
	NMSRadius      float64 `msgpack:"nms_radius"`
}

// request is sent to the worker for each frame
type request struct {
	FrameData []byte      `msgpack:"frame_data"`
	Encoding  string      `msgpack:"encoding"`
	Width     int         `msgpack:"width"`
	Height    int         `msgpack:"height"`
	Seq       uint64      `msgpack:"seq"`
	Options   wireOptions `msgpack:"options"`
}

type wireKeypoint struct {
	Part  string  `msgpack:"part"`
	X     float64 `msgpack:"x"`
	Y     float64 `msgpack:"y"`
	Score float64 `msgpack:"score"`
}

type wirePose struct {
	ID        int64          `msgpack:"id"`
	Score     float64        `msgpack:"score"`
	Keypoints []wireKeypoint `msgpack:"keypoints"`
}

// response is returned by the worker for each request
type response struct {
	Seq   uint64     `msgpack:"seq"`
	Poses []wirePose `msgpack:"poses"`
	Error string     `msgpack:"error,omitempty"`
}

// toWireOptions converts options for the worker.  Flipping is always done on
// this side so it is never forwarded
func toWireOptions(o pp.EstimateOptions) wireOptions {
	return wireOptions{
		FlipHorizontal: false,
		Decoding:       o.Decoding.String(),
		MaxDetections:  o.MaxDetections,
		ScoreThreshold: o.ScoreThreshold,
		NMSRadius:      o.NMSRadius,
	}
}

// toPoses converts worker poses, skipping keypoints with unknown part names
func toPoses(in []wirePose) []pp.Pose {

	poses := make([]pp.Pose, 0, len(in))

	for _, wp := range in {
		kps := make([]pp.Keypoint, 0, len(wp.Keypoints))

		for _, wk := range wp.Keypoints {
			part, err := pp.ParsePart(wk.Part)

			if err != nil {
				continue
			}

			kps = append(kps, pp.Keypoint{Part: part, X: wk.X, Y: wk.Y, Score: wk.Score})
		}

		poses = append(poses, pp.NewPose(wp.ID, wp.Score, kps...))
	}

	return poses
}

// writeMessage writes v as a 4 byte big endian length prefixed msgpack
// message
func writeMessage(w io.Writer, v interface{}) error {

	data, err := msgpack.Marshal(v)

	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// readMessage reads one length prefixed msgpack message into v
func readMessage(r io.Reader, v interface{}) error {

	lengthBuf := make([]byte, 4)

	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(lengthBuf)

	if size > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", size)
	}

	data := make([]byte, size)

	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}

	return nil
}
