package skeleton

import (
	"sync"

	pp "github.com/swdee/go-posepuppet"
)

// Holder keeps the last known skeleton of each identity so bones, anchor and
// scale that were omitted in the current cycle hold their previous values
type Holder struct {
	frames map[int64]Frame
	sync.Mutex
}

// NewHolder returns an empty holder
func NewHolder() *Holder {
	return &Holder{
		frames: make(map[int64]Frame),
	}
}

// Merge overlays the new frame onto the held frame of the same identity and
// returns the merged result.  Keypoints and torso are per cycle and are not
// held, as primitive puppets redraw from the current data only
func (h *Holder) Merge(f Frame) Frame {
	h.Lock()
	defer h.Unlock()

	held, ok := h.frames[f.ID]

	if !ok {
		merged := copyFrame(f)
		h.frames[f.ID] = merged
		return copyFrame(merged)
	}

	merged := copyFrame(held)

	for name, b := range f.Bones {
		merged.Bones[name] = b
	}

	if f.HasAnchor {
		merged.Anchor = f.Anchor
		merged.HasAnchor = true
	}

	if f.Scale > 0 {
		merged.Scale = f.Scale
	}

	merged.Torso = f.Torso
	merged.Keypoints = make(map[pp.Part]Point, len(f.Keypoints))

	for k, v := range f.Keypoints {
		merged.Keypoints[k] = v
	}

	h.frames[f.ID] = merged

	return copyFrame(merged)
}

// Get returns the held frame for an identity
func (h *Holder) Get(id int64) (Frame, bool) {
	h.Lock()
	defer h.Unlock()

	f, ok := h.frames[id]
	if !ok {
		return Frame{}, false
	}

	return copyFrame(f), true
}

// Drop forgets an identity
func (h *Holder) Drop(id int64) {
	h.Lock()
	defer h.Unlock()

	delete(h.frames, id)
}

// copyFrame returns a frame with its maps duplicated
func copyFrame(f Frame) Frame {

	c := f
	c.Bones = make(map[BoneName]Bone, len(f.Bones))

	for k, v := range f.Bones {
		c.Bones[k] = v
	}

	c.Keypoints = make(map[pp.Part]Point, len(f.Keypoints))

	for k, v := range f.Keypoints {
		c.Keypoints[k] = v
	}

	if f.Torso != nil {
		t := *f.Torso
		c.Torso = &t
	}

	return c
}
