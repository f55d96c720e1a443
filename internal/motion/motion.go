// Package motion turns recent centroids of a track into a smoothed direction
// signal.
package motion

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"parkguard/internal/bounded"
)

const DefaultWindow = 3

type Point struct {
	X, Y float64
}

// Estimate averages the unit vectors of consecutive moves over points, scales
// the mean by half of diag and reports the normalised amplitude
// A = 2*|mean| / diag together with its phase in degrees within (-180, 180].
//
// Zero-length moves are skipped. Fewer than two points, no movement at all or
// a non-positive diagonal yield (0, 0).
func Estimate(points []Point, diag float64) (amplitude, phase float64) {
	if len(points) < 2 || !(diag > 0) {
		return 0, 0
	}
	sum := make([]float64, 2)
	step := make([]float64, 2)
	n := 0
	for i := 1; i < len(points); i++ {
		step[0] = points[i].X - points[i-1].X
		step[1] = points[i].Y - points[i-1].Y
		length := floats.Norm(step, 2)
		if length == 0 || math.IsNaN(length) || math.IsInf(length, 0) {
			continue
		}
		floats.Scale(1/length, step)
		floats.Add(sum, step)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	floats.Scale(diag/2/float64(n), sum)
	amplitude = 2 * floats.Norm(sum, 2) / diag
	phase = math.Atan2(sum[1], sum[0]) * 180 / math.Pi
	if phase <= -180 {
		phase += 360
	}
	return amplitude, phase
}

// History is a fixed-capacity ring of the most recent centroids of one track.
type History struct {
	points []Point
	next   int
	full   bool
}

func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2
	}
	return &History{points: make([]Point, capacity)}
}

func (h *History) Add(p Point) {
	h.points[h.next] = p
	h.next = (h.next + 1) % len(h.points)
	if h.next == 0 {
		h.full = true
	}
}

func (h *History) Len() int {
	if h.full {
		return len(h.points)
	}
	return h.next
}

// Points returns the stored centroids oldest first.
func (h *History) Points() []Point {
	if !h.full {
		return append([]Point(nil), h.points[:h.next]...)
	}
	out := make([]Point, 0, len(h.points))
	out = append(out, h.points[h.next:]...)
	out = append(out, h.points[:h.next]...)
	return out
}

// Tracker keeps one History per track in a bounded map.
type Tracker struct {
	window    int
	histories bounded.Map[int, *History]
}

func NewTracker(window int, policy bounded.Policy, capacity int) *Tracker {
	if window < 2 {
		window = DefaultWindow
	}
	return &Tracker{
		window:    window,
		histories: bounded.New[int, *History](policy, capacity, nil),
	}
}

// Observe appends p to the track's history and returns the resulting
// estimate and the number of stored points.
func (t *Tracker) Observe(track int, p Point, diag float64) (amplitude, phase float64, samples int) {
	h, ok := t.histories.Get(track)
	if !ok {
		h = NewHistory(t.window)
		t.histories.Put(track, h)
	}
	h.Add(p)
	amplitude, phase = Estimate(h.Points(), diag)
	return amplitude, phase, h.Len()
}

func (t *Tracker) Evictions() uint64 {
	return t.histories.Evictions()
}
