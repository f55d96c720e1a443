// Package export persists stop and park events of one task as a JSON index
// and optional annotated crops.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"parkguard/internal/bounded"
	"parkguard/internal/model"
)

// IOError wraps a failed file operation of an export batch.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("export %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

type CategoryConfig struct {
	Dir        string
	MinSeconds float64
	WriteJSON  bool
	WriteCrops bool
}

type Options struct {
	Stop CategoryConfig
	Park CategoryConfig
	// IndexCapacity bounds the best-crop-per-track index of each category.
	IndexCapacity int
	JPEGQuality   int
}

type category struct {
	cfg   CategoryConfig
	index bounded.Map[int, cropFile]
}

type Exporter struct {
	logger     *slog.Logger
	categories map[model.Category]*category
	quality    int
	exported   atomic.Int64
	failures   atomic.Int64
}

func New(opts Options, logger *slog.Logger) *Exporter {
	capacity := opts.IndexCapacity
	if capacity <= 0 {
		capacity = bounded.DefaultCapacity
	}
	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Exporter{
		logger:  logger,
		quality: quality,
		categories: map[model.Category]*category{
			model.CategoryStop: {cfg: opts.Stop, index: bounded.NewFIFO[int, cropFile](capacity, nil)},
			model.CategoryPark: {cfg: opts.Park, index: bounded.NewFIFO[int, cropFile](capacity, nil)},
		},
	}
}

// Prepare empties and recreates the category directories. It runs once when
// the task starts.
func (e *Exporter) Prepare() error {
	for _, c := range e.categories {
		if c.cfg.Dir == "" {
			continue
		}
		if err := os.RemoveAll(c.cfg.Dir); err != nil {
			return &IOError{Op: "clear", Path: c.cfg.Dir, Err: err}
		}
		if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
			return &IOError{Op: "mkdir", Path: c.cfg.Dir, Err: err}
		}
		c.index.Clear()
	}
	return nil
}

// Export writes the candidates of one category that last longer than the
// category minimum and whose track is present in frame. Failed writes are
// logged and counted, the rest of the batch still runs, and the joined
// errors are returned next to the events that passed the filter.
func (e *Exporter) Export(ctx context.Context, cat model.Category, candidates []model.StopEvent, frame model.Frame) ([]model.StopEvent, error) {
	c, ok := e.categories[cat]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", cat)
	}
	boxes := make(map[int][4]float64, len(frame.Objects))
	for _, obj := range frame.Objects {
		boxes[obj.TrackID] = obj.BBox
	}

	// the latest candidate per track wins
	latest := make(map[int]int, len(candidates))
	order := make([]int, 0, len(candidates))
	for i, cand := range candidates {
		if !(cand.StopSeconds > c.cfg.MinSeconds) {
			continue
		}
		if _, ok := boxes[cand.TrackID]; !ok {
			continue
		}
		if _, seen := latest[cand.TrackID]; !seen {
			order = append(order, cand.TrackID)
		}
		latest[cand.TrackID] = i
	}
	if len(order) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	passed := make([]model.StopEvent, 0, len(order))
	for _, track := range order {
		ev := candidates[latest[track]]
		ev.Category = cat
		ev.ExportedAt = now
		passed = append(passed, ev)
	}

	var errs []error
	if c.cfg.Dir != "" {
		if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
			errs = append(errs, &IOError{Op: "mkdir", Path: c.cfg.Dir, Err: err})
		}
	}
	if c.cfg.WriteCrops && c.cfg.Dir != "" {
		img, err := frameImage(frame)
		if err != nil {
			errs = append(errs, err)
		} else if img != nil {
			for _, ev := range passed {
				if ctx.Err() != nil {
					errs = append(errs, ctx.Err())
					break
				}
				if err := e.writeCrop(c, img, boxes[ev.TrackID], ev); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if c.cfg.WriteJSON && c.cfg.Dir != "" {
		if err := writeRecords(c.cfg.Dir, passed); err != nil {
			errs = append(errs, err)
		}
	}
	if c.cfg.Dir != "" {
		errs = append(errs, e.retain(c)...)
	}

	e.exported.Add(int64(len(passed)))
	for _, err := range errs {
		e.failures.Add(1)
		if e.logger != nil {
			e.logger.Warn("export failed",
				"task_id", frame.TaskID,
				"category", string(cat),
				"error", err,
			)
		}
	}
	if e.logger != nil {
		e.logger.Debug("export batch",
			"task_id", frame.TaskID,
			"category", string(cat),
			"events", len(passed),
			"frame_index", frame.Index,
		)
	}
	return passed, errors.Join(errs...)
}

func (e *Exporter) Dir(cat model.Category) string {
	if c, ok := e.categories[cat]; ok {
		return c.cfg.Dir
	}
	return ""
}

func (e *Exporter) Exported() int64 { return e.exported.Load() }
func (e *Exporter) Failures() int64 { return e.failures.Load() }

// IndexEvictions reports evictions of the best-crop indexes.
func (e *Exporter) IndexEvictions() uint64 {
	var n uint64
	for _, c := range e.categories {
		n += c.index.Evictions()
	}
	return n
}

func jsonPath(dir string) string {
	return filepath.Join(dir, filepath.Base(dir)+".json")
}
