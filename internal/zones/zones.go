// Package zones loads the monitored polygons of a scene and answers which
// zone a point belongs to.
package zones

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"parkguard/internal/motion"
)

// ConfigError reports a missing or unusable zone file. It is fatal at startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "zones: " + e.Err.Error()
	}
	return fmt.Sprintf("zones %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

type Zone struct {
	// ID is the 1-based position of the shape in the file.
	ID           int            `json:"id"`
	Label        string         `json:"label"`
	GroupID      *int           `json:"group_id,omitempty"`
	Polygon      []motion.Point `json:"polygon"`
	ParkSeconds  float64        `json:"park_seconds"`
	AlarmSeconds float64        `json:"alarm_seconds"`
}

// Contains reports whether p lies inside the polygon or on its border.
func (z Zone) Contains(p motion.Point) bool {
	return pointInPolygon(z.Polygon, p)
}

// Set is the read-only zone list of one task.
type Set struct {
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Zones  []Zone `json:"zones"`
}

// Locate returns the first zone containing p.
func (s *Set) Locate(p motion.Point) (Zone, bool) {
	if s == nil {
		return Zone{}, false
	}
	for _, z := range s.Zones {
		if z.Contains(p) {
			return z, true
		}
	}
	return Zone{}, false
}

type Options struct {
	// FrameWidth and FrameHeight are the processing frame size. Shape points
	// are rescaled from the file's width/height to it when both are set.
	FrameWidth  int
	FrameHeight int
	// DefaultParkSeconds applies to shapes without flags. Zero makes such
	// shapes a configuration error.
	DefaultParkSeconds float64
	AlarmSeconds       float64
}

type file struct {
	URL    string  `json:"url"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Shapes []shape `json:"shapes"`
}

type shape struct {
	Label   string       `json:"label"`
	Points  [][2]float64 `json:"points"`
	GroupID *int         `json:"group_id"`
	Flags   dwellFlag    `json:"flags"`
}

// dwellFlag accepts a number, a numeric string or {"dwell_time": n}.
type dwellFlag struct {
	Seconds float64
	Set     bool
}

func (f *dwellFlag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("flags %q is not a number", s)
		}
		f.Seconds, f.Set = v, true
	case '{':
		var obj struct {
			DwellTime *float64 `json:"dwell_time"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.DwellTime != nil {
			f.Seconds, f.Set = *obj.DwellTime, true
		}
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		f.Seconds, f.Set = v, true
	}
	return nil
}

func Load(path string, opts Options) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	set, err := Parse(data, opts)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
		}
		return nil, err
	}
	return set, nil
}

func Parse(data []byte, opts Options) (*Set, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{Err: errors.New("zone file is empty")}
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode: %w", err)}
	}
	if len(f.Shapes) == 0 {
		return nil, &ConfigError{Err: errors.New("no shapes defined")}
	}
	sx, sy := 1.0, 1.0
	width, height := int(f.Width), int(f.Height)
	if f.Width > 0 && f.Height > 0 && opts.FrameWidth > 0 && opts.FrameHeight > 0 {
		sx = float64(opts.FrameWidth) / f.Width
		sy = float64(opts.FrameHeight) / f.Height
		width, height = opts.FrameWidth, opts.FrameHeight
	}
	set := &Set{URL: f.URL, Width: width, Height: height, Zones: make([]Zone, 0, len(f.Shapes))}
	for i, sh := range f.Shapes {
		if len(sh.Points) < 3 {
			return nil, &ConfigError{Err: fmt.Errorf("shape %d (%s): polygon needs at least 3 points", i, sh.Label)}
		}
		park := opts.DefaultParkSeconds
		if sh.Flags.Set {
			park = sh.Flags.Seconds
		}
		if !(park > 0) || math.IsInf(park, 0) {
			return nil, &ConfigError{Err: fmt.Errorf("shape %d (%s): dwell time must be > 0", i, sh.Label)}
		}
		poly := make([]motion.Point, 0, len(sh.Points))
		for _, pt := range sh.Points {
			if math.IsNaN(pt[0]) || math.IsNaN(pt[1]) || math.IsInf(pt[0], 0) || math.IsInf(pt[1], 0) {
				return nil, &ConfigError{Err: fmt.Errorf("shape %d (%s): invalid point", i, sh.Label)}
			}
			poly = append(poly, motion.Point{X: math.Trunc(pt[0] * sx), Y: math.Trunc(pt[1] * sy)})
		}
		label := sh.Label
		if label == "" {
			label = fmt.Sprintf("zone-%d", i+1)
		}
		set.Zones = append(set.Zones, Zone{
			ID:           i + 1,
			Label:        label,
			GroupID:      sh.GroupID,
			Polygon:      poly,
			ParkSeconds:  park,
			AlarmSeconds: opts.AlarmSeconds,
		})
	}
	return set, nil
}

// pointInPolygon is an even-odd ray cast that also accepts points on an edge.
func pointInPolygon(poly []motion.Point, p motion.Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p motion.Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > 1e-9 {
		return false
	}
	return p.X >= math.Min(a.X, b.X) && p.X <= math.Max(a.X, b.X) &&
		p.Y >= math.Min(a.Y, b.Y) && p.Y <= math.Max(a.Y, b.Y)
}
