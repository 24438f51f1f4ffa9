package pipeline

import (
	"testing"
	"time"

	"github.com/swdee/go-posepuppet/skeleton"
)

func TestMeterMean(t *testing.T) {

	m := NewMeter(3)

	if got := m.Mean(StageInference); got != 0 {
		t.Errorf("expected zero mean without samples, got %v", got)
	}

	for _, ms := range []int{10, 20, 30, 40} {
		m.Add(StageInference, time.Duration(ms)*time.Millisecond)
	}

	// oldest sample falls out of the window
	if got := m.Mean(StageInference); got != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %v", got)
	}

	if got := m.Mean(StageCapture); got != 0 {
		t.Errorf("expected other stages unaffected, got %v", got)
	}
}

func TestMeterFPS(t *testing.T) {

	m := NewMeter(10)
	start := time.Unix(100, 0)

	m.Tick(start)

	if fps := m.FPS(); fps != 0 {
		t.Errorf("expected zero FPS from one tick, got %f", fps)
	}

	for i := 1; i <= 4; i++ {
		m.Tick(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}

	if fps := m.FPS(); fps < 9.99 || fps > 10.01 {
		t.Errorf("expected 10 FPS, got %f", fps)
	}
}

func TestSceneIDs(t *testing.T) {

	s := Scene{Frames: []skeleton.Frame{{ID: 2}, {ID: 5}}}

	ids := s.IDs()

	if len(ids) != 2 || ids[0] != 2 || ids[1] != 5 {
		t.Errorf("unexpected ids %v", ids)
	}

	if ids := (Scene{}).IDs(); len(ids) != 0 {
		t.Errorf("expected no ids, got %v", ids)
	}
}
