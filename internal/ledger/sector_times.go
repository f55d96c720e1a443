package ledger

import "parkguard/internal/model"

// SectorTimes maps sectors to seconds and remembers first-insertion order.
// Updating an existing sector keeps its position.
type SectorTimes struct {
	order  []model.Sector
	values map[model.Sector]float64
}

func NewSectorTimes() *SectorTimes {
	return &SectorTimes{values: make(map[model.Sector]float64)}
}

// Add increases the time of s by seconds and returns the new total.
func (st *SectorTimes) Add(s model.Sector, seconds float64) float64 {
	v, ok := st.values[s]
	if !ok {
		st.order = append(st.order, s)
	}
	v += seconds
	st.values[s] = v
	return v
}

func (st *SectorTimes) Set(s model.Sector, seconds float64) {
	if _, ok := st.values[s]; !ok {
		st.order = append(st.order, s)
	}
	st.values[s] = seconds
}

func (st *SectorTimes) Get(s model.Sector) float64 {
	return st.values[s]
}

func (st *SectorTimes) Len() int {
	return len(st.order)
}

// Entries returns a copy of the map in insertion order.
func (st *SectorTimes) Entries() []model.SectorTime {
	out := make([]model.SectorTime, 0, len(st.order))
	for _, s := range st.order {
		out = append(out, model.SectorTime{Sector: s, Seconds: st.values[s]})
	}
	return out
}

func (st *SectorTimes) Clear() {
	st.order = st.order[:0]
	clear(st.values)
}
