package pipeline

import (
	"time"

	"github.com/swdee/go-posepuppet/skeleton"
)

// Scene is the result of one detection cycle
type Scene struct {
	// Seq increases with every detection cycle
	Seq uint64
	// FrameSeq is the sequence of the camera frame the scene was detected on
	FrameSeq uint64
	At       time.Time
	// Frames are the held skeleton frames of the identities detected this
	// cycle, ordered by ID
	Frames []skeleton.Frame
}

// IDs returns the identities in the scene
func (s Scene) IDs() []int64 {

	ids := make([]int64, len(s.Frames))

	for i, f := range s.Frames {
		ids[i] = f.ID
	}

	return ids
}
