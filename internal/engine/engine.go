package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"parkguard/internal/bounded"
	"parkguard/internal/config"
	"parkguard/internal/detector"
	"parkguard/internal/events"
	"parkguard/internal/export"
	"parkguard/internal/logging"
	"parkguard/internal/metrics"
	"parkguard/internal/model"
	"parkguard/internal/publish"
	"parkguard/internal/storage"
	"parkguard/internal/zones"
)

var ErrDuplicateFrame = errors.New("duplicate frame index")

// Engine routes frames to per-task detectors. Frames of one task are
// processed serially; tasks run concurrently and share no detection state.
type Engine struct {
	logger    *slog.Logger
	metrics   *metrics.Store
	events    *events.Store
	store     storage.Store
	publisher publish.Publisher
	cfg       atomic.Value
	mu        sync.Mutex
	tasks     map[string]*taskState
	started   time.Time
	wg        sync.WaitGroup
}

type taskState struct {
	id       string
	cfg      *config.Config
	logger   *slog.Logger
	mu       sync.Mutex
	detector *detector.Detector
	exporter *export.Exporter
	frames   *DedupeCache
	gate     *Interval
	stats    model.TaskStats
	dropped  atomic.Int64
	in       chan model.Frame
	err      error
}

// Outcome is the result of processing one frame.
type Outcome struct {
	Result   detector.Result
	Exported []model.StopEvent
}

// TaskInfo describes a task for the status API.
type TaskInfo struct {
	TaskID   string `json:"task_id"`
	RunID    string `json:"run_id,omitempty"`
	Zones    int    `json:"zones"`
	ZonePath string `json:"zone_path"`
	Error    string `json:"error,omitempty"`
}

func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store, eventsStore *events.Store, store storage.Store, publisher publish.Publisher) *Engine {
	e := &Engine{
		logger:    logger,
		metrics:   metricsStore,
		events:    eventsStore,
		store:     store,
		publisher: publisher,
		tasks:     make(map[string]*taskState),
		started:   time.Now().UTC(),
	}
	e.cfg.Store(cfg)
	return e
}

// UpdateConfig applies to tasks created afterwards. Running tasks keep the
// snapshot they started with.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start consumes in until ctx is done, handing each frame to its task's
// worker goroutine.
func (e *Engine) Start(ctx context.Context, in <-chan model.Frame) {
	go func() {
		for {
			select {
			case frame := <-in:
				e.dispatch(ctx, frame)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until all task workers have stopped.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) dispatch(ctx context.Context, frame model.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task := e.taskLocked(frame.TaskID)
	if task.in == nil {
		task.in = make(chan model.Frame, task.cfg.Ingest.TaskBuffer)
		e.wg.Add(1)
		go e.work(ctx, task, task.in)
	}
	select {
	case task.in <- frame:
	default:
		task.dropped.Add(1)
		if task.logger != nil {
			task.logger.Warn("task queue full, dropping frame", "frame_index", frame.Index)
		}
	}
}

func (e *Engine) work(ctx context.Context, task *taskState, in <-chan model.Frame) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			begin := time.Now()
			_, _ = e.processTask(ctx, task, frame)
			if task.cfg.Frame.FrameSkip {
				e.skipQueued(task, in, task.framesToSkip(time.Since(begin)))
			}
		}
	}
}

// skipQueued drops up to n frames already waiting in the task queue.
func (e *Engine) skipQueued(task *taskState, in <-chan model.Frame, n int) {
	for i := 0; i < n; i++ {
		select {
		case _, ok := <-in:
			if !ok {
				return
			}
			task.dropped.Add(1)
		default:
			return
		}
	}
}

// ProcessFrame runs frame synchronously on the calling goroutine.
func (e *Engine) ProcessFrame(ctx context.Context, frame model.Frame) (Outcome, error) {
	e.mu.Lock()
	task := e.taskLocked(frame.TaskID)
	e.mu.Unlock()
	return e.processTask(ctx, task, frame)
}

func (e *Engine) processTask(ctx context.Context, task *taskState, frame model.Frame) (Outcome, error) {
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.err != nil {
		return Outcome{}, task.err
	}
	frame.TaskID = task.id
	if task.frames.Seen(frame.Index) {
		task.stats.DuplicateFrames++
		e.publishStats(task)
		return Outcome{}, ErrDuplicateFrame
	}

	res := task.detector.Process(frame)
	out := Outcome{Result: res}
	task.stats.Frames++
	task.stats.Objects += int64(res.Objects)
	task.stats.SkippedObjects += int64(res.Skipped + frame.Rejected)
	task.stats.AlarmEvents += int64(res.AlarmEvents)
	task.stats.FrameTime = res.FrameTime
	for _, cls := range res.Classifications {
		switch cls.State {
		case model.StateCaution:
			task.stats.Caution++
		case model.StateViolation:
			task.stats.Violation++
		default:
			task.stats.Free++
		}
	}

	var exportErr error
	if task.gate.Due(res.FrameTime) {
		out.Exported, exportErr = e.exportCurrent(ctx, task, frame, res)
		e.deliver(ctx, task, out.Exported)
	}
	e.publishStats(task)
	return out, exportErr
}

// exportCurrent hands the exporter the tracks that are CAUTION or VIOLATION
// in frame. Earlier frames of the interval contribute nothing.
func (e *Engine) exportCurrent(ctx context.Context, task *taskState, frame model.Frame, res detector.Result) ([]model.StopEvent, error) {
	var exported []model.StopEvent
	var errs []error
	for _, batch := range []struct {
		cat        model.Category
		candidates []model.StopEvent
	}{
		{model.CategoryStop, res.Stop},
		{model.CategoryPark, res.Park},
	} {
		if len(batch.candidates) == 0 {
			continue
		}
		passed, err := task.exporter.Export(ctx, batch.cat, batch.candidates, frame)
		if err != nil {
			errs = append(errs, err)
		}
		exported = append(exported, passed...)
	}
	task.stats.Exported = task.exporter.Exported()
	task.stats.ExportErrors = task.exporter.Failures()
	return exported, errors.Join(errs...)
}

// deliver forwards exported events to the sinks. Sink failures are logged
// and do not affect detection.
func (e *Engine) deliver(ctx context.Context, task *taskState, exported []model.StopEvent) {
	if len(exported) == 0 {
		return
	}
	if e.events != nil {
		e.events.Add(exported...)
	}
	if e.store != nil {
		if err := e.store.SaveEvents(ctx, exported); err != nil && task.logger != nil {
			task.logger.Warn("store events failed", "count", len(exported), "err", err)
		}
		if err := e.store.SaveTaskStats(ctx, task.snapshot()); err != nil && task.logger != nil {
			task.logger.Warn("store task stats failed", "err", err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, exported); err != nil && task.logger != nil {
			task.logger.Warn("publish events failed", "count", len(exported), "err", err)
		}
	}
	if task.logger != nil {
		for _, ev := range exported {
			task.logger.Info("stop event exported",
				"track_id", ev.TrackID,
				"category", string(ev.Category),
				"stop_seconds", ev.StopSeconds,
				"zone_id", ev.ZoneID,
				"frame_index", ev.FrameIndex,
			)
		}
	}
}

func (e *Engine) publishStats(task *taskState) {
	if e.metrics != nil {
		e.metrics.Update(task.snapshot())
	}
}

func (t *taskState) framesToSkip(latency time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detector == nil {
		return 0
	}
	return t.detector.Pacer().FramesToSkip(latency)
}

func (t *taskState) snapshot() model.TaskStats {
	stats := t.stats
	stats.DroppedFrames = t.dropped.Load()
	if t.detector != nil {
		stats.Evictions = t.detector.Evictions()
	}
	if t.exporter != nil {
		stats.Evictions.Crops = t.exporter.IndexEvictions()
	}
	stats.UpdatedAt = time.Now().UTC()
	return stats
}

// taskLocked returns the state of taskID, creating it on first use. A task
// whose zones fail to load keeps the error and rejects its frames until
// Reset.
func (e *Engine) taskLocked(taskID string) *taskState {
	cfg := e.config()
	if taskID == "" {
		taskID = cfg.Ingest.Parser.DefaultTaskID
	}
	if t, ok := e.tasks[taskID]; ok {
		return t
	}
	t := e.newTask(taskID, cfg)
	e.tasks[taskID] = t
	return t
}

func (e *Engine) newTask(taskID string, cfg *config.Config) *taskState {
	t := &taskState{
		id:     taskID,
		cfg:    cfg,
		frames: NewDedupeCache(cfg.Detection.DedupeFrames),
		gate:   NewInterval(cfg.Export.Interval),
		stats:  model.TaskStats{TaskID: taskID},
	}
	zoneSet, err := zones.Load(cfg.ZonePath(taskID), zoneOptions(cfg))
	if err == nil {
		policy, _ := bounded.ParsePolicy(cfg.Detection.EvictionPolicy)
		t.detector, err = detector.New(taskID, zoneSet, detector.Options{
			FrameWidth:        cfg.Frame.Width,
			FrameHeight:       cfg.Frame.Height,
			GridRows:          cfg.Grid.Rows,
			GridCols:          cfg.Grid.Cols,
			Classes:           cfg.Detection.TargetClasses,
			AlarmSeconds:      cfg.Detection.AlarmSeconds,
			NearZeroAmplitude: cfg.Detection.NearZeroAmplitude,
			MotionWindow:      cfg.Detection.MotionWindow,
			Capacity:          cfg.Detection.MaxTracks,
			Policy:            policy,
			MinBBoxAreaRatio:  cfg.BBoxAreaRatio(),
			ActivityReset:     cfg.Detection.ActivityReset,
			PacerMode:         cfg.Frame.PacerMode,
			FPS:               cfg.Frame.FPS,
		}, e.logger)
	}
	if err != nil {
		t.err = err
		t.logger = e.logger
		if e.logger != nil {
			e.logger.Error("task setup failed", "task_id", taskID, "zone_path", cfg.ZonePath(taskID), "err", err)
		}
		return t
	}
	t.stats.RunID = t.detector.RunID()
	t.logger = logging.ForTask(e.logger, taskID, t.detector.RunID())

	root := filepath.Join(cfg.Export.OutputDir, safeName(taskID))
	t.exporter = export.New(export.Options{
		Stop: export.CategoryConfig{
			Dir:        filepath.Join(root, "Stop"),
			MinSeconds: cfg.Export.Stop.MinSeconds,
			WriteJSON:  cfg.Export.Stop.WriteJSON,
			WriteCrops: cfg.Export.Stop.WriteCrops,
		},
		Park: export.CategoryConfig{
			Dir:        filepath.Join(root, "Park"),
			MinSeconds: cfg.Export.Park.MinSeconds,
			WriteJSON:  cfg.Export.Park.WriteJSON,
			WriteCrops: cfg.Export.Park.WriteCrops,
		},
		IndexCapacity: cfg.Export.IndexCapacity,
		JPEGQuality:   cfg.Export.JPEGQuality,
	}, t.logger)
	if err := t.exporter.Prepare(); err != nil && t.logger != nil {
		t.logger.Warn("export directories not prepared", "err", err)
	}
	return t
}

func zoneOptions(cfg *config.Config) zones.Options {
	return zones.Options{
		FrameWidth:         cfg.Frame.Width,
		FrameHeight:        cfg.Frame.Height,
		DefaultParkSeconds: cfg.Zones.DefaultParkSeconds,
		AlarmSeconds:       cfg.Detection.AlarmSeconds,
	}
}

// CheckZones loads the default zone file and every per-task zone file of
// cfg. The first failure is returned as a *zones.ConfigError.
func CheckZones(cfg *config.Config) error {
	paths := make([]string, 0, len(cfg.Zones.Tasks)+1)
	if cfg.Zones.Path != "" {
		paths = append(paths, cfg.Zones.Path)
	}
	tasks := make([]string, 0, len(cfg.Zones.Tasks))
	for task := range cfg.Zones.Tasks {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	for _, task := range tasks {
		if p := cfg.Zones.Tasks[task]; p != "" {
			paths = append(paths, p)
		}
	}
	opts := zoneOptions(cfg)
	for _, p := range paths {
		if _, err := zones.Load(p, opts); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every task. The next frame of a task starts it again with
// the current configuration.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.tasks {
		if t.in != nil {
			close(t.in)
		}
	}
	e.tasks = make(map[string]*taskState)
	if e.logger != nil {
		e.logger.Info("engine reset")
	}
}

// Tasks lists the known tasks ordered by ID.
func (e *Engine) Tasks() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskInfo, 0, len(e.tasks))
	for _, t := range e.tasks {
		info := TaskInfo{TaskID: t.id, ZonePath: t.cfg.ZonePath(t.id)}
		if t.err != nil {
			info.Error = t.err.Error()
		}
		if t.detector != nil {
			info.RunID = t.detector.RunID()
			info.Zones = len(t.detector.Zones().Zones)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Zones returns the zone set of a running task.
func (e *Engine) Zones(taskID string) (*zones.Set, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok || t.detector == nil {
		return nil, false
	}
	return t.detector.Zones(), true
}

// Activity returns the sector activity of a running task.
func (e *Engine) Activity(taskID string) ([]detector.SectorActivity, bool) {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok || t.detector == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detector.Activity(), true
}

func (e *Engine) Started() time.Time {
	return e.started
}

// safeName makes a task ID usable as a single path element.
func safeName(taskID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, taskID)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
