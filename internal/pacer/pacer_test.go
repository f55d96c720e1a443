package pacer

import (
	"math"
	"testing"
	"time"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAverageMode(t *testing.T) {
	p := New("", 25)
	dt, ft, idx := p.Next(10)
	if !near(dt, 0.04) || ft != 0 || idx != 1 {
		t.Fatalf("first frame: dt=%v ft=%v idx=%d", dt, ft, idx)
	}
	p.Next(10.1)
	dt, ft, idx = p.Next(10.4)
	if !near(dt, 0.2) || !near(ft, 0.4) || idx != 3 {
		t.Fatalf("third frame: dt=%v ft=%v idx=%d", dt, ft, idx)
	}
}

func TestDeltaMode(t *testing.T) {
	p := New(ModeDelta, 10)
	p.Next(1)
	dt, _, _ := p.Next(1.5)
	if !near(dt, 0.5) {
		t.Fatalf("delta dt=%v", dt)
	}
	// a timestamp going backwards falls back to 1/fps
	dt, _, _ = p.Next(1.2)
	if !near(dt, 0.1) {
		t.Fatalf("backwards dt=%v", dt)
	}
}

func TestFixedModeAndFallbacks(t *testing.T) {
	p := New(ModeFixed, 0)
	if p.FPS() != DefaultFPS {
		t.Fatalf("fps=%v", p.FPS())
	}
	p.Next(0)
	dt, _, _ := p.Next(3)
	if !near(dt, 0.04) {
		t.Fatalf("fixed dt=%v", dt)
	}
	dt, _, _ = p.Next(math.NaN())
	if !near(dt, 0.04) {
		t.Fatalf("nan dt=%v", dt)
	}
	if _, err := ParseMode("warp"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestFramesToSkip(t *testing.T) {
	p := New("", 25)
	cases := []struct {
		latency time.Duration
		want    int
	}{
		{10 * time.Millisecond, 0},
		{40 * time.Millisecond, 0},
		{80 * time.Millisecond, 1},
		{100 * time.Millisecond, 2},
		{5 * time.Second, MaxSkip},
	}
	for _, c := range cases {
		if got := p.FramesToSkip(c.latency); got != c.want {
			t.Fatalf("FramesToSkip(%v)=%d want %d", c.latency, got, c.want)
		}
	}
}
