// Package pacer derives the elapsed time of each processed frame from
// caller-supplied timestamps.
package pacer

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DefaultFPS  = 25.0
	MaxSkip     = 15
	ModeAverage = "average"
	ModeDelta   = "delta"
	ModeFixed   = "fixed"
)

func ParseMode(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ModeAverage:
		return ModeAverage, nil
	case ModeDelta:
		return ModeDelta, nil
	case ModeFixed:
		return ModeFixed, nil
	default:
		return "", fmt.Errorf("unknown pacer mode %q", s)
	}
}

// Pacer is owned by one task and is not safe for concurrent use.
type Pacer struct {
	mode      string
	fps       float64
	started   bool
	start     float64
	last      float64
	processed int64
}

func New(mode string, fps float64) *Pacer {
	m, err := ParseMode(mode)
	if err != nil {
		m = ModeAverage
	}
	p := &Pacer{mode: m}
	p.SetFPS(fps)
	return p
}

// SetFPS updates the nominal rate. Non-positive or non-finite rates are ignored.
func (p *Pacer) SetFPS(fps float64) {
	if fps > 0 && !math.IsInf(fps, 0) {
		p.fps = fps
	} else if p.fps == 0 {
		p.fps = DefaultFPS
	}
}

func (p *Pacer) FPS() float64 { return p.fps }

func (p *Pacer) fallback() float64 { return 1 / p.fps }

// Next accounts for one processed frame with presentation timestamp ts in
// seconds. It returns the elapsed time to credit to the frame, the time since
// the first frame and the 1-based processed frame index.
func (p *Pacer) Next(ts float64) (dt, frameTime float64, index int64) {
	p.processed++
	index = p.processed
	valid := !math.IsNaN(ts) && !math.IsInf(ts, 0)
	if !p.started && valid {
		p.started = true
		p.start = ts
		p.last = ts
		return p.fallback(), 0, index
	}
	if !valid {
		return p.fallback(), p.last - p.start, index
	}
	frameTime = ts - p.start
	switch p.mode {
	case ModeFixed:
		dt = p.fallback()
	case ModeDelta:
		dt = ts - p.last
	default:
		// dt = 1 / real fps, real fps = processed / elapsed
		if p.processed > 1 {
			dt = frameTime / float64(p.processed-1)
		}
	}
	if ts > p.last {
		p.last = ts
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		dt = p.fallback()
	}
	if frameTime < 0 {
		frameTime = 0
	}
	return dt, frameTime, index
}

// FramesToSkip returns how many queued frames to drop when processing one
// frame took latency, so the task catches up with the source.
func (p *Pacer) FramesToSkip(latency time.Duration) int {
	frame := time.Duration(float64(time.Second) / p.fps)
	if frame <= 0 || latency <= frame {
		return 0
	}
	skip := int(latency/frame) - 1
	if latency%frame > 0 {
		skip++
	}
	if skip > MaxSkip {
		return MaxSkip
	}
	return skip
}

func (p *Pacer) Reset() {
	p.started = false
	p.start, p.last = 0, 0
	p.processed = 0
}
