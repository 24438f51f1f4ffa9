// Package tracker keeps pose identities stable across detection cycles and
// reconciles tracked identities with the puppets drawn for them.
package tracker

import (
	"sort"
	"sync"

	pp "github.com/swdee/go-posepuppet"
)

// Params defines the identity tracker settings
type Params struct {
	// MatchIoU is the minimum Intersection over Union between a pose's
	// keypoint box and a track's last box for them to be associated
	MatchIoU float64
	// KeypointThreshold is the minimum keypoint score for a keypoint to
	// contribute to a pose's box
	KeypointThreshold float64
	// TrackBuffer is the number of cycles a track that found no pose is
	// kept for matching before it is discarded
	TrackBuffer int
}

// DefaultParams returns tracker settings for a 30 FPS detector
func DefaultParams() Params {
	return Params{
		MatchIoU:          0.3,
		KeypointThreshold: 0.5,
		TrackBuffer:       0,
	}
}

// track is the last known box of an identity
type track struct {
	id     int64
	rect   Rect
	missed int
}

// Tracker assigns stable IDs to poses from estimators that do not provide
// identities.  Association is greedy on highest IoU of keypoint boxes
type Tracker struct {
	params Params
	tracks []*track
	idGen  *IDGenerator
	sync.Mutex
}

// NewTracker returns a new identity tracker
func NewTracker(p Params) *Tracker {
	return &Tracker{
		params: p,
		idGen:  NewIDGenerator(),
	}
}

// candidate is a possible pose to track association
type candidate struct {
	pose  int
	track int
	iou   float64
}

// Assign sets the ID of every pose with ID zero, returning the updated
// poses.  Poses that already carry an ID from the estimator keep it and
// update that track's box
func (t *Tracker) Assign(poses []pp.Pose) []pp.Pose {
	t.Lock()
	defer t.Unlock()

	out := make([]pp.Pose, len(poses))
	rects := make([]Rect, len(poses))
	hasRect := make([]bool, len(poses))
	matched := make([]bool, len(t.tracks))

	for i, p := range poses {
		out[i] = p
		rects[i], hasRect[i] = RectFromPose(p, t.params.KeypointThreshold)
	}

	// estimator supplied identities claim their own tracks first
	for _, p := range out {
		if p.ID == 0 {
			continue
		}

		t.idGen.Skip(p.ID)

		for j, tr := range t.tracks {
			if tr.id == p.ID {
				matched[j] = true
			}
		}
	}

	var cands []candidate

	for i, p := range out {
		if p.ID != 0 || !hasRect[i] {
			continue
		}

		for j, tr := range t.tracks {
			if matched[j] {
				continue
			}

			iou := rects[i].CalcIoU(tr.rect)

			if iou >= t.params.MatchIoU {
				cands = append(cands, candidate{pose: i, track: j, iou: iou})
			}
		}
	}

	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].iou > cands[b].iou
	})

	for _, c := range cands {
		if out[c.pose].ID != 0 || matched[c.track] {
			continue
		}

		out[c.pose].ID = t.tracks[c.track].id
		matched[c.track] = true
	}

	// unmatched poses start new tracks
	for i := range out {
		if out[i].ID == 0 {
			out[i].ID = t.idGen.GetNext()
		}
	}

	t.update(out, rects, hasRect)

	return out
}

// update rebuilds the track list from this cycle's poses and ages tracks
// that found no pose
func (t *Tracker) update(poses []pp.Pose, rects []Rect, hasRect []bool) {

	seen := make(map[int64]bool, len(poses))
	next := make([]*track, 0, len(poses)+len(t.tracks))

	for i, p := range poses {
		seen[p.ID] = true

		if !hasRect[i] {
			// keep the previous box if there is one
			for _, tr := range t.tracks {
				if tr.id == p.ID {
					tr.missed = 0
					next = append(next, tr)
				}
			}
			continue
		}

		next = append(next, &track{id: p.ID, rect: rects[i]})
	}

	for _, tr := range t.tracks {
		if seen[tr.id] {
			continue
		}

		tr.missed++

		if tr.missed <= t.params.TrackBuffer {
			next = append(next, tr)
		}
	}

	t.tracks = next
}

// Len returns the number of tracks held for matching
func (t *Tracker) Len() int {
	t.Lock()
	defer t.Unlock()

	return len(t.tracks)
}

// Reset clears the tracked data and restarts ID numbering
func (t *Tracker) Reset() {
	t.Lock()
	defer t.Unlock()

	t.tracks = nil
	t.idGen.Reset()
}
