package render

import (
	"image"
	"strings"
	"testing"
	"time"
)

func TestStarfieldRegenerates(t *testing.T) {

	s := NewStarfield(DefaultStars, 1)

	first := s.Points(640, 480)

	if len(first) != DefaultStars {
		t.Fatalf("expected %d stars, got %d", DefaultStars, len(first))
	}

	for _, p := range first {
		if !p.In(image.Rect(0, 0, 640, 480)) {
			t.Fatalf("star %v outside frame", p)
		}
	}

	again := s.Points(640, 480)

	for i := range first {
		if first[i] != again[i] {
			t.Fatal("stars moved without a size change")
		}
	}

	small := s.Points(100, 50)

	for _, p := range small {
		if !p.In(image.Rect(0, 0, 100, 50)) {
			t.Fatalf("star %v outside resized frame", p)
		}
	}

	if got := s.Points(0, 0); len(got) != 0 {
		t.Errorf("expected no stars for an empty frame, got %d", len(got))
	}
}

func TestLabelerRender(t *testing.T) {

	l, err := NewLabeler(14)

	if err != nil {
		t.Fatal(err)
	}

	defer l.Close()

	img := l.Render("ID 7", Yellow)
	b := img.Bounds()

	if b.Dx() <= 2*l.Padding || b.Dy() <= 2*l.Padding {
		t.Fatalf("label too small: %v", b)
	}

	if got := img.RGBAAt(0, 0); got != Yellow {
		t.Errorf("expected background at corner, got %v", got)
	}

	wide := l.Render("ID 7777777", Yellow)

	if wide.Bounds().Dx() <= b.Dx() {
		t.Error("expected longer text to give a wider label")
	}
}

func TestStatsLines(t *testing.T) {

	lines := StatsLines(Stats{
		Frame:     12,
		FPS:       29.97,
		Objects:   2,
		Lag:       40 * time.Millisecond,
		Inference: 15 * time.Millisecond,
	})

	if !strings.Contains(lines[0], "FPS: 29.97") || !strings.Contains(lines[0], "Objects: 2") ||
		!strings.Contains(lines[0], "Lag: 40ms") {
		t.Errorf("unexpected first line %q", lines[0])
	}

	if !strings.Contains(lines[1], "Inference: 15.00ms") {
		t.Errorf("unexpected second line %q", lines[1])
	}
}
