package detector

import "parkguard/internal/model"

const DefaultActivityReset = 1000

type SectorActivity struct {
	Sector    model.Sector `json:"sector"`
	Count     int          `json:"count"`
	Amplitude float64      `json:"amplitude"`
}

// activityGrid counts classified visits per sector and remembers the last
// motion amplitude seen there. When any sector reaches the reset count every
// count starts over.
type activityGrid struct {
	rows, cols int
	reset      int
	cells      []SectorActivity
	resets     int
}

func newActivityGrid(rows, cols, reset int) *activityGrid {
	if reset <= 0 {
		reset = DefaultActivityReset
	}
	cells := make([]SectorActivity, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cells[r*cols+c].Sector = model.Sector{Row: r, Col: c}
		}
	}
	return &activityGrid{rows: rows, cols: cols, reset: reset, cells: cells}
}

func (a *activityGrid) Update(s model.Sector, amplitude float64) {
	if s.Row < 0 || s.Row >= a.rows || s.Col < 0 || s.Col >= a.cols {
		return
	}
	cell := &a.cells[s.Row*a.cols+s.Col]
	count := cell.Count + 1
	if count >= a.reset {
		for i := range a.cells {
			a.cells[i].Count = 0
		}
		a.resets++
		return
	}
	cell.Count = count
	cell.Amplitude = amplitude
}

// Snapshot returns the sectors visited since the last reset.
func (a *activityGrid) Snapshot() []SectorActivity {
	out := make([]SectorActivity, 0)
	for _, cell := range a.cells {
		if cell.Count > 0 {
			out = append(out, cell)
		}
	}
	return out
}
