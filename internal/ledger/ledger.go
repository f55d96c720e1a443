// Package ledger keeps the per-track dwell bookkeeping of one task.
//
// Every map is keyed by track ID and bounded by the same capacity and
// eviction policy, so a task holding more than capacity tracks forgets the
// oldest ones instead of growing without limit.
package ledger

import (
	"parkguard/internal/bounded"
	"parkguard/internal/model"
)

type Ledger struct {
	dwell       bounded.Map[int, *SectorTimes]
	colorStop   bounded.Map[int, *SectorTimes]
	cautionStop bounded.Map[int, *SectorTimes]
	alarms      bounded.Map[int, map[int]struct{}]
}

func New(policy bounded.Policy, capacity int) *Ledger {
	return &Ledger{
		dwell:       bounded.New[int, *SectorTimes](policy, capacity, nil),
		colorStop:   bounded.New[int, *SectorTimes](policy, capacity, nil),
		cautionStop: bounded.New[int, *SectorTimes](policy, capacity, nil),
		alarms:      bounded.New[int, map[int]struct{}](policy, capacity, nil),
	}
}

func sectorTimes(m bounded.Map[int, *SectorTimes], track int) *SectorTimes {
	st, ok := m.Get(track)
	if !ok {
		st = NewSectorTimes()
		m.Put(track, st)
	}
	return st
}

// Accumulate adds dt seconds of residency for track in sector and returns the
// new dwell. Negative or NaN deltas are ignored so dwell never decreases.
func (l *Ledger) Accumulate(track int, sector model.Sector, dt float64) float64 {
	if !(dt > 0) {
		dt = 0
	}
	return sectorTimes(l.dwell, track).Add(sector, dt)
}

func (l *Ledger) Get(track int, sector model.Sector) float64 {
	st, ok := l.dwell.Get(track)
	if !ok {
		return 0
	}
	return st.Get(sector)
}

// SetColorStop records how long track has stood in sector while holding a
// state from a previous frame.
func (l *Ledger) SetColorStop(track int, sector model.Sector, seconds float64) {
	sectorTimes(l.colorStop, track).Set(sector, seconds)
}

func (l *Ledger) ColorStop(track int) []model.SectorTime {
	st, ok := l.colorStop.Get(track)
	if !ok {
		return nil
	}
	return st.Entries()
}

func (l *Ledger) ClearColorStop(track int) {
	if st, ok := l.colorStop.Get(track); ok {
		st.Clear()
	}
}

// SetCautionStop records dwell that exceeded the alarm threshold while the
// track was already flagged.
func (l *Ledger) SetCautionStop(track int, sector model.Sector, seconds float64) {
	sectorTimes(l.cautionStop, track).Set(sector, seconds)
}

func (l *Ledger) CautionStop(track int) []model.SectorTime {
	st, ok := l.cautionStop.Get(track)
	if !ok {
		return nil
	}
	return st.Entries()
}

// RecordAlarm remembers an alarm change count for track.
func (l *Ledger) RecordAlarm(track, count int) {
	seen, ok := l.alarms.Get(track)
	if !ok {
		seen = make(map[int]struct{})
		l.alarms.Put(track, seen)
	}
	seen[count] = struct{}{}
}

func (l *Ledger) SeenAlarm(track, count int) bool {
	seen, ok := l.alarms.Get(track)
	if !ok {
		return false
	}
	_, found := seen[count]
	return found
}

// Tracks returns the number of tracks with dwell records.
func (l *Ledger) Tracks() int {
	return l.dwell.Len()
}

// Evictions fills the ledger-owned fields of model.Evictions.
func (l *Ledger) Evictions() model.Evictions {
	return model.Evictions{
		Dwell:      l.dwell.Evictions(),
		ColorStop:  l.colorStop.Evictions(),
		StopTime:   l.cautionStop.Evictions(),
		AlarmCount: l.alarms.Evictions(),
	}
}
