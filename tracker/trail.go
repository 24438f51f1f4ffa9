package tracker

import "sync"

// Point represents the x,y pixel coordinates of a puppet anchor
type Point struct {
	X, Y int
}

// Track represents a track history
type Track struct {
	points []Point
}

// Trail is the struct to keep a history of puppet anchor positions used for
// drawing a motion trail behind each puppet
type Trail struct {
	// size is the maximum number of most recent points to keep in history
	size int
	// history of tracked points
	history map[int64]*Track
	sync.Mutex
}

// NewTrail returns a new trail history track instance.  Size is the number
// of most recent points to keep and specifies the maximum length of the
// trail to maintain
func NewTrail(size int) *Trail {
	return &Trail{
		size:    size,
		history: make(map[int64]*Track),
	}
}

// Reset clears all history
func (t *Trail) Reset() {
	t.Lock()
	defer t.Unlock()

	t.history = make(map[int64]*Track)
}

// Add a point to the identity's history
func (t *Trail) Add(id int64, x, y float64) {
	t.Lock()
	defer t.Unlock()

	// init map if no history exists yet for track id
	track, exists := t.history[id]

	if !exists {
		track = &Track{}
		t.history[id] = track
	}

	track.points = append(track.points, Point{X: int(x), Y: int(y)})

	// check if history is exceeded and drop oldest point
	if len(track.points) > t.size {
		track.points = track.points[1:]
	}
}

// Drop removes the history of an identity
func (t *Trail) Drop(id int64) {
	t.Lock()
	defer t.Unlock()

	delete(t.history, id)
}

// GetPoints gets a copy of the point history for a specific identity
func (t *Trail) GetPoints(id int64) []Point {
	t.Lock()
	defer t.Unlock()

	if track, exists := t.history[id]; exists {
		points := make([]Point, len(track.points))
		copy(points, track.points)
		return points
	}

	// no history yet
	return nil
}
