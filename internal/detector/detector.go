// Package detector runs the stop/park pipeline for a single task. A Detector
// owns all of its state and must only be driven from one goroutine.
package detector

import (
	"errors"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"parkguard/internal/bounded"
	"parkguard/internal/classify"
	"parkguard/internal/coalesce"
	"parkguard/internal/grid"
	"parkguard/internal/ledger"
	"parkguard/internal/model"
	"parkguard/internal/motion"
	"parkguard/internal/pacer"
	"parkguard/internal/zones"
)

const DefaultAlarmSeconds = 1.5

type Options struct {
	FrameWidth  int
	FrameHeight int
	GridRows    int
	GridCols    int
	Classes     []int
	// AlarmSeconds is used for zones without their own alarm threshold.
	AlarmSeconds      float64
	NearZeroAmplitude float64
	MotionWindow      int
	Capacity          int
	Policy            bounded.Policy
	// MinBBoxAreaRatio drops boxes smaller than ratio x sector area from
	// classification. Zero disables the filter.
	MinBBoxAreaRatio float64
	ActivityReset    int
	PacerMode        string
	FPS              float64
}

type Result struct {
	TaskID          string
	RunID           string
	FrameIndex      int64
	FrameTime       float64
	Elapsed         float64
	Classifications []model.Classification
	Stop            []model.StopEvent
	Park            []model.StopEvent
	Objects         int
	Skipped         int
	AlarmEvents     int
}

type Detector struct {
	taskID     string
	runID      string
	logger     *slog.Logger
	opts       Options
	zones      *zones.Set
	classes    ClassSet
	grid       grid.Grid
	pacer      *pacer.Pacer
	motion     *motion.Tracker
	ledger     *ledger.Ledger
	classifier *classify.Classifier
	reconciler *coalesce.Reconciler
	previous   bounded.Map[int, model.ObjectState]
	activity   *activityGrid
}

func New(taskID string, zoneSet *zones.Set, opts Options, logger *slog.Logger) (*Detector, error) {
	if zoneSet == nil || len(zoneSet.Zones) == 0 {
		return nil, &zones.ConfigError{Err: errors.New("no zones configured")}
	}
	if opts.FrameWidth <= 0 || opts.FrameHeight <= 0 {
		opts.FrameWidth, opts.FrameHeight = 1280, 720
	}
	if opts.GridRows <= 0 {
		opts.GridRows = 32
	}
	if opts.GridCols <= 0 {
		opts.GridCols = 32
	}
	if !(opts.AlarmSeconds > 0) {
		opts.AlarmSeconds = DefaultAlarmSeconds
	}
	if opts.Capacity <= 0 {
		opts.Capacity = bounded.DefaultCapacity
	}
	if opts.Classes == nil {
		opts.Classes = DefaultClasses
	}
	l := ledger.New(opts.Policy, opts.Capacity)
	c := classify.New(opts.NearZeroAmplitude, opts.Policy, opts.Capacity)
	d := &Detector{
		taskID:     taskID,
		runID:      uuid.NewString(),
		logger:     logger,
		opts:       opts,
		zones:      zoneSet,
		classes:    buildClassSet(opts.Classes),
		grid:       grid.New(opts.FrameWidth, opts.FrameHeight, opts.GridRows, opts.GridCols),
		pacer:      pacer.New(opts.PacerMode, opts.FPS),
		motion:     motion.NewTracker(opts.MotionWindow, opts.Policy, opts.Capacity),
		ledger:     l,
		classifier: c,
		reconciler: coalesce.NewReconciler(l, c),
		previous:   bounded.New[int, model.ObjectState](opts.Policy, opts.Capacity, nil),
		activity:   newActivityGrid(opts.GridRows, opts.GridCols, opts.ActivityReset),
	}
	if logger != nil {
		logger.Info("detector started",
			"task_id", taskID,
			"run_id", d.runID,
			"zones", len(zoneSet.Zones),
			"grid", [2]int{opts.GridRows, opts.GridCols},
			"eviction_policy", string(opts.Policy),
		)
	}
	return d, nil
}

func (d *Detector) TaskID() string             { return d.taskID }
func (d *Detector) RunID() string              { return d.runID }
func (d *Detector) Zones() *zones.Set          { return d.zones }
func (d *Detector) Pacer() *pacer.Pacer        { return d.pacer }
func (d *Detector) Activity() []SectorActivity { return d.activity.Snapshot() }

// Process classifies every object of frame and collects the stop and park
// candidates. Objects of other classes or outside every zone are skipped.
func (d *Detector) Process(frame model.Frame) Result {
	d.pacer.SetFPS(frame.FPS)
	dt, frameTime, index := d.pacer.Next(frame.Timestamp)
	res := Result{
		TaskID:     d.taskID,
		RunID:      d.runID,
		FrameIndex: index,
		FrameTime:  round2(frameTime),
		Elapsed:    dt,
	}
	for _, obj := range frame.Objects {
		res.Objects++
		if !d.classes.Allowed(obj.ClassID) {
			res.Skipped++
			continue
		}
		cx, cy := obj.Centroid()
		center := motion.Point{X: cx, Y: cy}
		zone, ok := d.zones.Locate(center)
		if !ok {
			res.Skipped++
			continue
		}
		amplitude, phase, samples := d.motion.Observe(obj.TrackID, center, obj.Diagonal())
		if samples < 2 {
			continue
		}
		cls, fired, ok := d.step(obj, zone, center, amplitude, dt)
		if fired {
			res.AlarmEvents++
		}
		if !ok {
			res.Skipped++
			continue
		}
		cls.Phase = phase
		res.Classifications = append(res.Classifications, cls)

		ev := model.StopEvent{
			TaskID:      d.taskID,
			RunID:       d.runID,
			TrackID:     obj.TrackID,
			StopSeconds: cls.StopSeconds,
			ZoneID:      zone.ID,
			FrameTime:   res.FrameTime,
			FrameIndex:  index,
		}
		switch cls.State {
		case model.StateCaution:
			ev.Category = model.CategoryStop
			res.Stop = append(res.Stop, ev)
		case model.StateViolation:
			ev.Category = model.CategoryPark
			res.Park = append(res.Park, ev)
		}
	}
	return res
}

// step runs the dwell, coalescing and classification stages for one object
// with at least two centroids of history. ok is false when the box is too
// small to classify.
func (d *Detector) step(obj model.TrackedObject, zone zones.Zone, center motion.Point, amplitude, dt float64) (cls model.Classification, fired, ok bool) {
	track := obj.TrackID
	alarm := zone.AlarmSeconds
	if !(alarm > 0) {
		alarm = d.opts.AlarmSeconds
	}
	sector := d.grid.SectorOf(center.X, center.Y)
	d.activity.Update(sector, amplitude)

	dwell := round2(d.ledger.Accumulate(track, sector, dt))
	prev, hasPrev := d.previous.Get(track)
	if dwell > alarm && hasPrev && prev != model.StateFree {
		d.ledger.SetCautionStop(track, sector, dwell)
	}
	stopTotal := round2(coalesce.CoalesceAdjacent(d.ledger.CautionStop(track)))
	if hasPrev {
		d.ledger.SetColorStop(track, sector, dwell)
	}
	parkTotal := round2(coalesce.CoalesceAdjacent(d.ledger.ColorStop(track)))
	if _, fired = d.reconciler.Reconcile(track, sector, alarm); fired {
		parkTotal = 0
		if d.logger != nil {
			d.logger.Debug("stop relocated",
				"task_id", d.taskID,
				"track_id", track,
				"sector", sector,
			)
		}
	}

	if d.opts.MinBBoxAreaRatio > 0 && obj.Area() < d.opts.MinBBoxAreaRatio*d.grid.SectorArea() {
		return model.Classification{}, fired, false
	}

	state := d.classifier.Classify(classify.Input{
		TrackID:      track,
		Sector:       sector,
		Dwell:        dwell,
		Amplitude:    amplitude,
		StopTotal:    parkTotal,
		ParkSeconds:  zone.ParkSeconds,
		AlarmSeconds: alarm,
	})
	d.previous.Put(track, state)
	return model.Classification{
		TrackID:     track,
		ClassID:     obj.ClassID,
		ZoneID:      zone.ID,
		Sector:      sector,
		State:       state,
		Dwell:       dwell,
		StopSeconds: stopTotal,
		ParkSeconds: parkTotal,
		Amplitude:   amplitude,
		Relocated:   fired,
	}, fired, true
}

// Evictions reports capacity evictions of every bounded map the detector owns.
func (d *Detector) Evictions() model.Evictions {
	ev := d.ledger.Evictions()
	ev.Marks = d.classifier.Evictions() + d.previous.Evictions()
	ev.Motion = d.motion.Evictions()
	return ev
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
