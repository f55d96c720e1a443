package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/model"
)

var (
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrInvalidObject = errors.New("invalid object")
)

// FrameFields is a decoded frame before validation.
type FrameFields struct {
	TaskID     string
	FrameIndex *int64
	Timestamp  string
	FPS        float64
	Width      int
	Height     int
	ImagePath  string
	Objects    []ObjectFields
}

type ObjectFields struct {
	BBox       []float64
	TrackID    *int
	ClassID    int
	Confidence *float64
}

// Normalize validates a frame and rescales its boxes to the configured frame
// size. Invalid objects are dropped and reported in skipped; an invalid frame
// is returned as an error wrapping ErrInvalidFrame.
func Normalize(fields FrameFields, cfg *config.Config) (model.Frame, []error, error) {
	task := strings.TrimSpace(fields.TaskID)
	if task == "" {
		task = cfg.Ingest.Parser.DefaultTaskID
	}
	if fields.FrameIndex == nil || *fields.FrameIndex < 0 {
		return model.Frame{}, nil, fmt.Errorf("%w: task %s: missing or negative frame_index", ErrInvalidFrame, task)
	}
	if fields.Width < 0 || fields.Height < 0 {
		return model.Frame{}, nil, fmt.Errorf("%w: task %s: negative frame size", ErrInvalidFrame, task)
	}
	ts := math.NaN()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp)
		if err != nil {
			return model.Frame{}, nil, fmt.Errorf("%w: task %s: %v", ErrInvalidFrame, task, err)
		}
		ts = parsed
	}
	if math.IsNaN(ts) {
		// no timestamp: fall back to the nominal rate
		fps := fields.FPS
		if !(fps > 0) {
			fps = cfg.Frame.FPS
		}
		ts = float64(*fields.FrameIndex) / fps
	}

	targetW, targetH := cfg.Frame.Width, cfg.Frame.Height
	sx, sy := 1.0, 1.0
	if fields.Width > 0 && fields.Height > 0 {
		sx = float64(targetW) / float64(fields.Width)
		sy = float64(targetH) / float64(fields.Height)
	}

	frame := model.Frame{
		TaskID:    task,
		Index:     *fields.FrameIndex,
		Timestamp: ts,
		FPS:       fields.FPS,
		Width:     targetW,
		Height:    targetH,
		ImagePath: strings.TrimSpace(fields.ImagePath),
		Objects:   make([]model.TrackedObject, 0, len(fields.Objects)),
	}
	var skipped []error
	for i, raw := range fields.Objects {
		obj, err := normalizeObject(raw, sx, sy, targetW, targetH)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("object %d: %w", i, err))
			continue
		}
		frame.Objects = append(frame.Objects, obj)
	}
	return frame, skipped, nil
}

func normalizeObject(raw ObjectFields, sx, sy float64, w, h int) (model.TrackedObject, error) {
	if raw.TrackID == nil || *raw.TrackID < 0 {
		return model.TrackedObject{}, fmt.Errorf("%w: missing or negative track_id", ErrInvalidObject)
	}
	if len(raw.BBox) != 4 {
		return model.TrackedObject{}, fmt.Errorf("%w: bbox needs 4 values, got %d", ErrInvalidObject, len(raw.BBox))
	}
	for _, v := range raw.BBox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.TrackedObject{}, fmt.Errorf("%w: bbox contains non-finite value", ErrInvalidObject)
		}
	}
	x0, y0 := math.Min(raw.BBox[0], raw.BBox[2])*sx, math.Min(raw.BBox[1], raw.BBox[3])*sy
	x1, y1 := math.Max(raw.BBox[0], raw.BBox[2])*sx, math.Max(raw.BBox[1], raw.BBox[3])*sy
	if x1-x0 <= 0 || y1-y0 <= 0 {
		return model.TrackedObject{}, fmt.Errorf("%w: empty bbox", ErrInvalidObject)
	}
	if x1 <= 0 || y1 <= 0 || x0 >= float64(w) || y0 >= float64(h) {
		return model.TrackedObject{}, fmt.Errorf("%w: bbox outside frame", ErrInvalidObject)
	}
	conf := 1.0
	if raw.Confidence != nil {
		conf = *raw.Confidence
		if math.IsNaN(conf) || conf < 0 || conf > 1 {
			return model.TrackedObject{}, fmt.Errorf("%w: confidence %v out of range", ErrInvalidObject, conf)
		}
	}
	return model.TrackedObject{
		TrackID:    *raw.TrackID,
		ClassID:    raw.ClassID,
		BBox:       [4]float64{x0, y0, x1, y1},
		Confidence: conf,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// ParseTimestamp returns seconds. Plain numbers are presentation timestamps
// in seconds; date strings become Unix seconds.
func ParseTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty timestamp")
	}
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0, fmt.Errorf("timestamp out of range: %q", value)
		}
		return v, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return float64(t.UnixNano()) / float64(time.Second), nil
		}
	}
	return 0, fmt.Errorf("unsupported timestamp format: %q", value)
}
