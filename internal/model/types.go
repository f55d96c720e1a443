package model

import (
	"image"
	"math"
	"time"
)

type ObjectState int

const (
	StateFree ObjectState = iota
	StateCaution
	StateViolation
)

func (s ObjectState) String() string {
	switch s {
	case StateCaution:
		return "caution"
	case StateViolation:
		return "violation"
	default:
		return "free"
	}
}

// Category selects the export folder a stop event belongs to.
type Category string

const (
	CategoryStop Category = "stop"
	CategoryPark Category = "park"
)

type TrackedObject struct {
	TrackID    int        `json:"track_id"`
	ClassID    int        `json:"class_id"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

func (o TrackedObject) Width() float64 {
	return math.Abs(o.BBox[2] - o.BBox[0])
}

func (o TrackedObject) Height() float64 {
	return math.Abs(o.BBox[3] - o.BBox[1])
}

// Centroid is the integer pixel centre of the box, x0 + w/2 and y0 + h/2
// with both halves truncated.
func (o TrackedObject) Centroid() (float64, float64) {
	x0, y0 := math.Trunc(o.BBox[0]), math.Trunc(o.BBox[1])
	w := math.Abs(math.Trunc(o.BBox[2]) - x0)
	h := math.Abs(math.Trunc(o.BBox[3]) - y0)
	return x0 + math.Floor(w/2), y0 + math.Floor(h/2)
}

func (o TrackedObject) Diagonal() float64 {
	return math.Hypot(o.Width(), o.Height())
}

func (o TrackedObject) Area() float64 {
	return o.Width() * o.Height()
}

type Frame struct {
	TaskID    string          `json:"task_id"`
	Index     int64           `json:"frame_index"`
	Timestamp float64         `json:"timestamp"`
	FPS       float64         `json:"fps,omitempty"`
	Width     int             `json:"width,omitempty"`
	Height    int             `json:"height,omitempty"`
	ImagePath string          `json:"image_path,omitempty"`
	Objects   []TrackedObject `json:"objects"`
	Image     image.Image     `json:"-"`
	// Rejected counts objects dropped during normalisation.
	Rejected int `json:"-"`
}

type Sector struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (s Sector) Less(o Sector) bool {
	if s.Row != o.Row {
		return s.Row < o.Row
	}
	return s.Col < o.Col
}

// Adjacent8 reports whether o differs from s by at most one row and one column.
func (s Sector) Adjacent8(o Sector) bool {
	return absInt(s.Row-o.Row) <= 1 && absInt(s.Col-o.Col) <= 1
}

// Adjacent4 reports whether o shares an edge with s.
func (s Sector) Adjacent4(o Sector) bool {
	dr := absInt(s.Row - o.Row)
	dc := absInt(s.Col - o.Col)
	return dr+dc == 1
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type SectorTime struct {
	Sector  Sector  `json:"sector"`
	Seconds float64 `json:"seconds"`
}

type Classification struct {
	TrackID     int         `json:"track_id"`
	ClassID     int         `json:"class_id"`
	ZoneID      int         `json:"zone_id"`
	Sector      Sector      `json:"sector"`
	State       ObjectState `json:"state"`
	Dwell       float64     `json:"dwell"`
	StopSeconds float64     `json:"stop_seconds"`
	ParkSeconds float64     `json:"park_seconds"`
	Amplitude   float64     `json:"amplitude"`
	Phase       float64     `json:"phase"`
	Relocated   bool        `json:"relocated,omitempty"`
}

type StopEvent struct {
	TaskID      string    `json:"task_id"`
	RunID       string    `json:"run_id,omitempty"`
	TrackID     int       `json:"track_id"`
	Category    Category  `json:"category"`
	StopSeconds float64   `json:"stop_seconds"`
	ZoneID      int       `json:"zone_id"`
	FrameTime   float64   `json:"frame_time"`
	FrameIndex  int64     `json:"frame_index"`
	ExportedAt  time.Time `json:"exported_at"`
}

type Evictions struct {
	Dwell      uint64 `json:"dwell"`
	ColorStop  uint64 `json:"color_stop"`
	StopTime   uint64 `json:"stop_time"`
	AlarmCount uint64 `json:"alarm_count"`
	Marks      uint64 `json:"marks"`
	Motion     uint64 `json:"motion"`
	Crops      uint64 `json:"crops"`
}

func (e Evictions) Total() uint64 {
	return e.Dwell + e.ColorStop + e.StopTime + e.AlarmCount + e.Marks + e.Motion + e.Crops
}

type TaskStats struct {
	TaskID          string    `json:"task_id"`
	RunID           string    `json:"run_id"`
	Frames          int64     `json:"frames"`
	DroppedFrames   int64     `json:"dropped_frames"`
	DuplicateFrames int64     `json:"duplicate_frames"`
	Objects         int64     `json:"objects"`
	SkippedObjects  int64     `json:"skipped_objects"`
	Free            int64     `json:"free"`
	Caution         int64     `json:"caution"`
	Violation       int64     `json:"violation"`
	AlarmEvents     int64     `json:"alarm_events"`
	Exported        int64     `json:"exported"`
	ExportErrors    int64     `json:"export_errors"`
	Evictions       Evictions `json:"evictions"`
	FrameTime       float64   `json:"frame_time"`
	UpdatedAt       time.Time `json:"updated_at"`
}
