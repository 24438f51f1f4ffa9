// Package emit publishes the skeleton frames of each detection cycle to
// external renderers over MQTT and WebSocket.
package emit

import (
	"context"
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/swdee/go-posepuppet/skeleton"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Point is a position in the rig's coordinate space
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Figure is the skeleton of one tracked person
type Figure struct {
	ID int64 `json:"id" msgpack:"id"`
	// Anchor is omitted until the anchor keypoints have been seen
	Anchor *Point  `json:"anchor,omitempty" msgpack:"anchor,omitempty"`
	Scale  float64 `json:"scale" msgpack:"scale"`
	// Bones maps rig joint names to their rotation in radians
	Bones map[string]float64 `json:"bones" msgpack:"bones"`
	// Keypoints holds the accepted keypoints by part name
	Keypoints map[string]Point `json:"keypoints,omitempty" msgpack:"keypoints,omitempty"`
}

// Message is published once per detection cycle
type Message struct {
	Seq uint64 `json:"seq" msgpack:"seq"`
	// Timestamp is the detection time in unix milliseconds
	Timestamp int64    `json:"timestamp" msgpack:"timestamp"`
	Figures   []Figure `json:"figures" msgpack:"figures"`
}

// NewMessage converts skeleton frames into a message, naming bones by the
// joints of rig
func NewMessage(seq uint64, at time.Time, rig skeleton.Rig, frames []skeleton.Frame) Message {

	msg := Message{
		Seq:       seq,
		Timestamp: at.UnixMilli(),
		Figures:   make([]Figure, 0, len(frames)),
	}

	for _, f := range frames {
		fig := Figure{
			ID:        f.ID,
			Scale:     f.Scale,
			Bones:     make(map[string]float64, len(f.Bones)),
			Keypoints: make(map[string]Point, len(f.Keypoints)),
		}

		if f.HasAnchor {
			fig.Anchor = &Point{X: f.Anchor.X, Y: f.Anchor.Y}
		}

		for name, b := range f.Bones {
			fig.Bones[rig.Rest(name).Joint] = b.Angle
		}

		for part, p := range f.Keypoints {
			fig.Keypoints[part.String()] = Point{X: p.X, Y: p.Y}
		}

		msg.Figures = append(msg.Figures, fig)
	}

	sort.Slice(msg.Figures, func(i, j int) bool {
		return msg.Figures[i].ID < msg.Figures[j].ID
	})

	return msg
}

// Encode marshals the message as JSON or msgpack
func Encode(msg Message, encoding string) ([]byte, error) {

	switch encoding {
	case EncodingJSON, "":
		return json.Marshal(msg)
	case EncodingMsgpack:
		return msgpack.Marshal(msg)
	}

	return nil, fmt.Errorf("unknown encoding: %q", encoding)
}

// Emitter publishes messages to an external consumer.  Publish failures are
// reported to the caller but must never block the pipeline for long
type Emitter interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}
