// Package smoother reduces jitter in detected keypoints by filtering each
// keypoint coordinate across consecutive detection cycles, per tracked
// person.
package smoother

import (
	"sync"

	pp "github.com/swdee/go-posepuppet"
)

// Filter produces an updated smoothed pose from the previous smoothed state
// and a new raw sample.  prev is nil when no state exists for the identity,
// in which case the raw pose is returned unchanged
type Filter interface {
	Update(prev *pp.Pose, raw pp.Pose) pp.Pose
	// Forget discards any internal state held for the identity
	Forget(id int64)
}

// Store keeps the smoothed pose of every tracked identity and runs new
// samples through its Filter
type Store struct {
	filter Filter
	state  map[int64]pp.Pose
	sync.Mutex
}

// NewStore returns a smoothed pose store using the given filter
func NewStore(f Filter) *Store {
	return &Store{
		filter: f,
		state:  make(map[int64]pp.Pose),
	}
}

// Smooth updates the identity's smoothed state with the raw pose and returns
// a copy of the new smoothed pose
func (s *Store) Smooth(raw pp.Pose) pp.Pose {
	s.Lock()
	defer s.Unlock()

	var prev *pp.Pose

	if p, ok := s.state[raw.ID]; ok {
		prev = &p
	}

	next := s.filter.Update(prev, raw)
	next.ID = raw.ID
	s.state[raw.ID] = next

	return next.Clone()
}

// SmoothAll runs Smooth on each pose in order
func (s *Store) SmoothAll(raw []pp.Pose) []pp.Pose {

	out := make([]pp.Pose, len(raw))

	for i, p := range raw {
		out[i] = s.Smooth(p)
	}

	return out
}

// Get returns a copy of the smoothed pose for the identity
func (s *Store) Get(id int64) (pp.Pose, bool) {
	s.Lock()
	defer s.Unlock()

	p, ok := s.state[id]
	if !ok {
		return pp.Pose{}, false
	}

	return p.Clone(), true
}

// Drop removes the smoothed state of an identity that is no longer tracked
func (s *Store) Drop(id int64) {
	s.Lock()
	defer s.Unlock()

	delete(s.state, id)
	s.filter.Forget(id)
}

// Reset clears all state
func (s *Store) Reset() {
	s.Lock()
	defer s.Unlock()

	for id := range s.state {
		s.filter.Forget(id)
	}

	s.state = make(map[int64]pp.Pose)
}

// Len returns the number of identities with smoothed state
func (s *Store) Len() int {
	s.Lock()
	defer s.Unlock()

	return len(s.state)
}

// IDs returns the identities that currently hold smoothed state
func (s *Store) IDs() []int64 {
	s.Lock()
	defer s.Unlock()

	ids := make([]int64, 0, len(s.state))
	for id := range s.state {
		ids = append(ids, id)
	}

	return ids
}
