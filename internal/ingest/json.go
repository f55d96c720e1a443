package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"parkguard/internal/normalize"
)

var errNotObject = errors.New("frame must be a JSON object")

// ParseFrameJSON decodes one frame. Field names are matched case-insensitively
// and a few common aliases are accepted for each field.
func ParseFrameJSON(data []byte) (normalize.FrameFields, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return normalize.FrameFields{}, errNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return normalize.FrameFields{}, err
	}
	return parseFrameMap(lowerKeys(obj))
}

func parseFrameMap(obj map[string]json.RawMessage) (normalize.FrameFields, error) {
	var fields normalize.FrameFields
	if raw := firstPresent(obj, "task_id", "task", "camera_id", "camera", "source"); raw != nil {
		fields.TaskID = scalarString(raw)
	}
	if raw := firstPresent(obj, "frame_index", "frame", "index", "frame_id"); raw != nil {
		var idx int64
		if err := json.Unmarshal(raw, &idx); err != nil {
			return fields, fmt.Errorf("frame_index: %w", err)
		}
		fields.FrameIndex = &idx
	}
	if raw := firstPresent(obj, "timestamp", "time", "ts", "pts"); raw != nil {
		fields.Timestamp = scalarString(raw)
	}
	if raw := firstPresent(obj, "fps"); raw != nil {
		if err := json.Unmarshal(raw, &fields.FPS); err != nil {
			return fields, fmt.Errorf("fps: %w", err)
		}
	}
	if raw := firstPresent(obj, "width", "frame_width"); raw != nil {
		if err := json.Unmarshal(raw, &fields.Width); err != nil {
			return fields, fmt.Errorf("width: %w", err)
		}
	}
	if raw := firstPresent(obj, "height", "frame_height"); raw != nil {
		if err := json.Unmarshal(raw, &fields.Height); err != nil {
			return fields, fmt.Errorf("height: %w", err)
		}
	}
	if raw := firstPresent(obj, "image_path", "image", "frame_path"); raw != nil {
		fields.ImagePath = scalarString(raw)
	}
	raw := firstPresent(obj, "objects", "detections", "tracks")
	if raw == nil {
		return fields, nil
	}
	var list []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return fields, fmt.Errorf("objects: %w", err)
	}
	fields.Objects = make([]normalize.ObjectFields, 0, len(list))
	for _, item := range list {
		fields.Objects = append(fields.Objects, parseObjectMap(lowerKeys(item)))
	}
	return fields, nil
}

// parseObjectMap never fails; undecodable fields are left empty so that
// normalisation rejects the object with a reason.
func parseObjectMap(obj map[string]json.RawMessage) normalize.ObjectFields {
	var out normalize.ObjectFields
	if raw := firstPresent(obj, "bbox", "box", "xyxy"); raw != nil {
		_ = json.Unmarshal(raw, &out.BBox)
	}
	if raw := firstPresent(obj, "track_id", "id", "track"); raw != nil {
		var id int
		if json.Unmarshal(raw, &id) == nil {
			out.TrackID = &id
		}
	}
	if raw := firstPresent(obj, "class_id", "class", "cls"); raw != nil {
		_ = json.Unmarshal(raw, &out.ClassID)
	}
	if raw := firstPresent(obj, "confidence", "conf", "score"); raw != nil {
		var conf float64
		if json.Unmarshal(raw, &conf) == nil {
			out.Confidence = &conf
		}
	}
	return out
}

func lowerKeys(obj map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		out[strings.ToLower(k)] = v
	}
	return out
}

func firstPresent(obj map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := obj[k]; ok && string(v) != "null" {
			return v
		}
	}
	return nil
}

// scalarString returns strings unquoted and numbers as written.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
