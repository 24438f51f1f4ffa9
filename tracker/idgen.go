package tracker

import "sync"

// IDGenerator hands out incrementing identity numbers starting at 1, so the
// zero value of a pose ID keeps meaning "unassigned"
type IDGenerator struct {
	id int64
	sync.Mutex
}

// NewIDGenerator returns a generator starting at 1
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// GetNext returns the next incremental number
func (g *IDGenerator) GetNext() int64 {
	g.Lock()
	defer g.Unlock()
	g.id++
	return g.id
}

// Skip makes sure id is never handed out, eg: because an estimator already
// assigned it
func (g *IDGenerator) Skip(id int64) {
	g.Lock()
	defer g.Unlock()

	if id > g.id {
		g.id = id
	}
}

// Reset restarts numbering
func (g *IDGenerator) Reset() {
	g.Lock()
	defer g.Unlock()
	g.id = 0
}
