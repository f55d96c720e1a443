// Package grid partitions a frame into a fixed rows x cols sector grid.
package grid

import (
	"image"
	"math"

	"parkguard/internal/model"
)

type Grid struct {
	rows, cols     int
	sectorW        int
	sectorH        int
	frameW, frameH int
}

// New builds a grid over a frameW x frameH frame. Sector sizes use integer
// division, so the last row and column absorb any remainder.
func New(frameW, frameH, rows, cols int) Grid {
	if rows <= 0 {
		rows = 1
	}
	if cols <= 0 {
		cols = 1
	}
	sw := frameW / cols
	sh := frameH / rows
	if sw <= 0 {
		sw = 1
	}
	if sh <= 0 {
		sh = 1
	}
	return Grid{rows: rows, cols: cols, sectorW: sw, sectorH: sh, frameW: frameW, frameH: frameH}
}

func (g Grid) Rows() int { return g.rows }
func (g Grid) Cols() int { return g.cols }

func (g Grid) SectorSize() (int, int) { return g.sectorW, g.sectorH }

func (g Grid) SectorArea() float64 {
	return float64(g.sectorW * g.sectorH)
}

// SectorOf maps a point to its sector. It never fails: coordinates outside the
// frame are clamped to the border sectors.
func (g Grid) SectorOf(x, y float64) model.Sector {
	return model.Sector{
		Row: clampIndex(y, g.sectorH, g.rows),
		Col: clampIndex(x, g.sectorW, g.cols),
	}
}

// Bounds returns the pixel rectangle covered by s.
func (g Grid) Bounds(s model.Sector) image.Rectangle {
	x0 := s.Col * g.sectorW
	y0 := s.Row * g.sectorH
	x1 := x0 + g.sectorW
	y1 := y0 + g.sectorH
	if s.Col == g.cols-1 && g.frameW > x1 {
		x1 = g.frameW
	}
	if s.Row == g.rows-1 && g.frameH > y1 {
		y1 = g.frameH
	}
	return image.Rect(x0, y0, x1, y1)
}

func clampIndex(v float64, size, n int) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	idx := math.Floor(v / float64(size))
	if idx >= float64(n-1) {
		return n - 1
	}
	return int(idx)
}
