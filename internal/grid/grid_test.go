package grid

import (
	"math"
	"testing"

	"parkguard/internal/model"
)

func TestSectorOfBasic(t *testing.T) {
	g := New(1280, 720, 32, 32)
	sw, sh := g.SectorSize()
	if sw != 40 || sh != 22 {
		t.Fatalf("sector size: %dx%d", sw, sh)
	}
	cases := []struct {
		x, y float64
		want model.Sector
	}{
		{0, 0, model.Sector{Row: 0, Col: 0}},
		{39, 21, model.Sector{Row: 0, Col: 0}},
		{40, 22, model.Sector{Row: 1, Col: 1}},
		{640, 360, model.Sector{Row: 16, Col: 16}},
		{1279, 719, model.Sector{Row: 31, Col: 31}},
	}
	for _, c := range cases {
		if got := g.SectorOf(c.x, c.y); got != c.want {
			t.Fatalf("SectorOf(%v,%v)=%v want %v", c.x, c.y, got, c.want)
		}
	}
}

func TestSectorOfIsTotal(t *testing.T) {
	for _, dims := range [][4]int{{1280, 720, 32, 32}, {1280, 720, 24, 24}, {640, 480, 7, 13}, {100, 100, 1, 1}} {
		g := New(dims[0], dims[1], dims[2], dims[3])
		for x := 0.0; x < float64(dims[0]); x += 3.7 {
			for y := 0.0; y < float64(dims[1]); y += 5.3 {
				s := g.SectorOf(x, y)
				if s.Row < 0 || s.Row >= g.Rows() || s.Col < 0 || s.Col >= g.Cols() {
					t.Fatalf("grid %v: (%v,%v) -> out of range %v", dims, x, y, s)
				}
			}
		}
	}
}

func TestSectorOfClampsOutside(t *testing.T) {
	g := New(1280, 720, 32, 32)
	if s := g.SectorOf(-5, -1); s != (model.Sector{}) {
		t.Fatalf("negative clamp: %v", s)
	}
	if s := g.SectorOf(5000, 5000); s != (model.Sector{Row: 31, Col: 31}) {
		t.Fatalf("overflow clamp: %v", s)
	}
	if s := g.SectorOf(math.NaN(), math.Inf(1)); s != (model.Sector{Row: 31, Col: 0}) {
		t.Fatalf("nan/inf clamp: %v", s)
	}
}

func TestBoundsCoversRemainder(t *testing.T) {
	g := New(1280, 720, 32, 32)
	b := g.Bounds(model.Sector{Row: 31, Col: 31})
	if b.Max.X != 1280 || b.Max.Y != 720 {
		t.Fatalf("last sector bounds: %v", b)
	}
}
