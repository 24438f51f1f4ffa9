package pipeline

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stage names the timed steps of the pipeline
type Stage string

const (
	StageCapture   Stage = "capture"
	StageInference Stage = "inference"
	StageTracking  Stage = "tracking"
	StageRendering Stage = "rendering"
	StageTotal     Stage = "total"
)

// Meter keeps rolling averages of stage durations and the render frame
// rate over the most recent samples
type Meter struct {
	size    int
	samples map[Stage][]float64
	ticks   []time.Time
	sync.Mutex
}

// NewMeter returns a meter averaging over size samples
func NewMeter(size int) *Meter {
	if size < 2 {
		size = 2
	}
	return &Meter{
		size:    size,
		samples: make(map[Stage][]float64),
	}
}

// Add records a stage duration
func (m *Meter) Add(stage Stage, d time.Duration) {
	m.Lock()
	defer m.Unlock()

	s := append(m.samples[stage], float64(d))

	if len(s) > m.size {
		s = s[1:]
	}

	m.samples[stage] = s
}

// Mean returns the average duration of a stage
func (m *Meter) Mean(stage Stage) time.Duration {
	m.Lock()
	defer m.Unlock()

	s := m.samples[stage]

	if len(s) == 0 {
		return 0
	}

	return time.Duration(stat.Mean(s, nil))
}

// Tick records a rendered frame
func (m *Meter) Tick(t time.Time) {
	m.Lock()
	defer m.Unlock()

	m.ticks = append(m.ticks, t)

	if len(m.ticks) > m.size {
		m.ticks = m.ticks[1:]
	}
}

// FPS returns the frame rate over the recorded ticks
func (m *Meter) FPS() float64 {
	m.Lock()
	defer m.Unlock()

	if len(m.ticks) < 2 {
		return 0
	}

	elapsed := m.ticks[len(m.ticks)-1].Sub(m.ticks[0]).Seconds()

	if elapsed <= 0 {
		return 0
	}

	return float64(len(m.ticks)-1) / elapsed
}
