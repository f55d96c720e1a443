package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"parkguard/internal/model"
)

type Record struct {
	StartTime  *string `json:"start_time,omitempty"`
	StartFrame *int64  `json:"start_frame,omitempty"`
	Time       float64 `json:"time"`
	Region     int     `json:"region"`
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds float64) string {
	if !(seconds > 0) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// writeRecords merges events into the category JSON file. First-seen start
// time and frame are kept, time and region are overwritten. A file that
// cannot be decoded is replaced.
func writeRecords(dir string, events []model.StopEvent) error {
	path := jsonPath(dir)
	existing := map[string]*Record{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			existing = map[string]*Record{}
		}
	} else if !os.IsNotExist(err) {
		return &IOError{Op: "read", Path: path, Err: err}
	}

	for _, ev := range events {
		key := strconv.Itoa(ev.TrackID)
		rec, ok := existing[key]
		if !ok || rec == nil {
			rec = &Record{}
			existing[key] = rec
		}
		if rec.StartTime == nil {
			start := FormatClock(ev.FrameTime)
			rec.StartTime = &start
		}
		if rec.StartFrame == nil {
			frame := ev.FrameIndex
			rec.StartFrame = &frame
		}
		rec.Time = round2(ev.StopSeconds)
		rec.Region = ev.ZoneID
	}

	data, err := json.MarshalIndent(existing, "", "    ")
	if err != nil {
		return &IOError{Op: "encode", Path: path, Err: err}
	}
	return writeAtomic(path, data)
}

// ReadRecords loads the JSON index of a category directory.
func ReadRecords(dir string) (map[string]Record, error) {
	data, err := os.ReadFile(jsonPath(dir))
	if err != nil {
		return nil, err
	}
	out := map[string]Record{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
