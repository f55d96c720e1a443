// Package coalesce merges dwell across related sectors into one stop and
// detects when a track has started a new stop somewhere else.
//
// Grouping follows sorted (row, col) order and splitting follows insertion
// order. Neither is a spatial flood fill.
package coalesce

import (
	"sort"

	"parkguard/internal/model"
)

// CoalesceAdjacent sorts the entries by sector, groups each head sector with
// the following sectors that lie within one row and one column of the head,
// and returns the sum of the group maxima.
func CoalesceAdjacent(entries []model.SectorTime) float64 {
	if len(entries) == 0 {
		return 0
	}
	sorted := append([]model.SectorTime(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sector.Less(sorted[j].Sector)
	})
	var total float64
	head := sorted[0]
	best := head.Seconds
	for _, e := range sorted[1:] {
		if e.Sector.Adjacent8(head.Sector) {
			if e.Seconds > best {
				best = e.Seconds
			}
			continue
		}
		total += best
		head = e
		best = e.Seconds
	}
	return total + best
}

// FindAlarmEvents splits the entries, in insertion order, into runs that
// start at every sector over threshold. A run counts when it holds a sector
// over threshold and an edge-adjacent sector under it.
func FindAlarmEvents(entries []model.SectorTime, threshold float64) int {
	count := 0
	start := 0
	for i := 1; i <= len(entries); i++ {
		if i < len(entries) && !(entries[i].Seconds > threshold) {
			continue
		}
		if qualifies(entries[start:i], threshold) {
			count++
		}
		start = i
	}
	return count
}

func qualifies(run []model.SectorTime, threshold float64) bool {
	for _, over := range run {
		if !(over.Seconds > threshold) {
			continue
		}
		for _, under := range run {
			if under.Seconds < threshold && over.Sector.Adjacent4(under.Sector) {
				return true
			}
		}
	}
	return false
}
