package engine

import "time"

// Interval opens once per period of frame time. The first call starts the
// period and stays closed.
type Interval struct {
	period  float64
	start   float64
	started bool
}

func NewInterval(period time.Duration) *Interval {
	return &Interval{period: period.Seconds()}
}

// Due reports whether a full period has passed since the last opening and
// restarts the period when it has. A clock that moves backwards restarts
// the period.
func (i *Interval) Due(frameTime float64) bool {
	if i.period <= 0 {
		return true
	}
	if !i.started || frameTime < i.start {
		i.start = frameTime
		i.started = true
		return false
	}
	if frameTime-i.start >= i.period {
		i.start = frameTime
		return true
	}
	return false
}
