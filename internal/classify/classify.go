// Package classify decides the per-frame state of a tracked object.
package classify

import (
	"parkguard/internal/bounded"
	"parkguard/internal/model"
)

const DefaultNearZeroAmplitude = 0.02

// Mark is the per (track, sector) memory of the last decision. One value per
// sector keeps the states mutually exclusive.
type Mark struct {
	State model.ObjectState
	// Caution keeps the sector sticky. It survives a VIOLATION decision and
	// is cleared by FREE or a relocation.
	Caution bool
	// Relocated is set when the coalescer decided the track started a new
	// stop. It is consumed by the next classification in that sector.
	Relocated bool
}

type Input struct {
	TrackID int
	Sector  model.Sector
	// Dwell is the rounded residency of the track in Sector.
	Dwell     float64
	Amplitude float64
	// StopTotal is the coalesced color stop time of the track.
	StopTotal    float64
	ParkSeconds  float64
	AlarmSeconds float64
}

type Classifier struct {
	nearZero float64
	marks    bounded.Map[int, map[model.Sector]*Mark]
}

func New(nearZero float64, policy bounded.Policy, capacity int) *Classifier {
	if !(nearZero > 0) {
		nearZero = DefaultNearZeroAmplitude
	}
	return &Classifier{
		nearZero: nearZero,
		marks:    bounded.New[int, map[model.Sector]*Mark](policy, capacity, nil),
	}
}

func (c *Classifier) mark(track int, sector model.Sector) *Mark {
	sectors, ok := c.marks.Get(track)
	if !ok {
		sectors = make(map[model.Sector]*Mark)
		c.marks.Put(track, sectors)
	}
	m, ok := sectors[sector]
	if !ok {
		m = &Mark{}
		sectors[sector] = m
	}
	return m
}

// Classify applies the rules in order: VIOLATION when the stop total exceeds
// the park threshold, CAUTION when the sector dwell exceeds the alarm
// threshold or the sector is sticky from an earlier CAUTION or the object
// barely moves, FREE otherwise.
func (c *Classifier) Classify(in Input) model.ObjectState {
	m := c.mark(in.TrackID, in.Sector)
	m.Relocated = false
	if in.StopTotal > in.ParkSeconds {
		m.State = model.StateViolation
		return model.StateViolation
	}
	if in.Dwell > in.AlarmSeconds || m.Caution || in.Amplitude < c.nearZero {
		m.State = model.StateCaution
		m.Caution = true
		return model.StateCaution
	}
	m.State = model.StateFree
	m.Caution = false
	return model.StateFree
}

// MarkRelocated forgets the prior decision for the sector so the track is
// judged fresh on its next frame there.
func (c *Classifier) MarkRelocated(track int, sector model.Sector) {
	m := c.mark(track, sector)
	m.State = model.StateFree
	m.Caution = false
	m.Relocated = true
}

// Mark returns the stored record for (track, sector).
func (c *Classifier) Mark(track int, sector model.Sector) (Mark, bool) {
	sectors, ok := c.marks.Get(track)
	if !ok {
		return Mark{}, false
	}
	m, ok := sectors[sector]
	if !ok {
		return Mark{}, false
	}
	return *m, true
}

func (c *Classifier) Evictions() uint64 {
	return c.marks.Evictions()
}
