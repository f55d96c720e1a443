package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/events"
	"parkguard/internal/export"
	"parkguard/internal/metrics"
	"parkguard/internal/model"
	"parkguard/internal/zones"
)

const fullFrameZones = `{"url": "rtsp://cam", "width": 1280, "height": 720,
  "shapes": [{"label": "road", "points": [[0,0],[1280,0],[1280,720],[0,720]], "flags": 10}]}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "zones.json")
	if err := os.WriteFile(zonePath, []byte(fullFrameZones), 0o644); err != nil {
		t.Fatalf("write zones: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Zones.Path = zonePath
	cfg.Export.OutputDir = filepath.Join(dir, "Results")
	return cfg
}

func newEngineForTest(cfg *config.Config) (*Engine, *metrics.Store, *events.Store) {
	m := metrics.NewStore(100)
	ev := events.NewStore(100)
	return NewEngine(cfg, nil, m, ev, nil, nil), m, ev
}

func parkedCar(task string, i int) model.Frame {
	return model.Frame{
		TaskID:    task,
		Index:     int64(i),
		Timestamp: float64(i) * 0.04,
		FPS:       25,
		Width:     1280,
		Height:    720,
		Objects: []model.TrackedObject{
			{TrackID: 1, ClassID: 2, BBox: [4]float64{100, 100, 300, 250}, Confidence: 0.9},
		},
	}
}

func TestParkedCarIsExported(t *testing.T) {
	cfg := testConfig(t)
	eng, metricsStore, eventsStore := newEngineForTest(cfg)
	ctx := context.Background()
	var park []model.StopEvent
	for i := 0; i < 400; i++ {
		out, err := eng.ProcessFrame(ctx, parkedCar("cam1", i))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		for _, ev := range out.Exported {
			if ev.Category == model.CategoryPark {
				park = append(park, ev)
			}
		}
	}
	if len(park) == 0 {
		t.Fatalf("no park event exported")
	}
	if park[0].TrackID != 1 || park[0].ZoneID != 1 || park[0].StopSeconds <= 10 {
		t.Fatalf("park event: %+v", park[0])
	}
	records, err := export.ReadRecords(filepath.Join(cfg.Export.OutputDir, "cam1", "Park"))
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if _, ok := records["1"]; !ok {
		t.Fatalf("records: %+v", records)
	}
	stats, ok := metricsStore.Get("cam1")
	if !ok || stats.Frames != 400 || stats.Violation == 0 || stats.Exported == 0 {
		t.Fatalf("stats: %+v", stats)
	}
	if len(eventsStore.ForTask("cam1", 0)) == 0 {
		t.Fatalf("events store empty")
	}
}

func TestExportUsesCurrentFrameStates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Stop.MinSeconds = 0
	eng, _, _ := newEngineForTest(cfg)
	ctx := context.Background()
	sawCaution := false
	for i := 0; i < 140; i++ {
		frame := parkedCar("cam1", i)
		if i >= 75 {
			// drives off after three seconds
			dx := float64(10 * (i - 74))
			frame.Objects[0].BBox = [4]float64{100 + dx, 100, 300 + dx, 250}
		}
		out, err := eng.ProcessFrame(ctx, frame)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		states := map[int]model.ObjectState{}
		for _, cls := range out.Result.Classifications {
			states[cls.TrackID] = cls.State
			if cls.State == model.StateCaution {
				sawCaution = true
			}
		}
		for _, ev := range out.Exported {
			want := model.StateCaution
			if ev.Category == model.CategoryPark {
				want = model.StateViolation
			}
			if states[ev.TrackID] != want {
				t.Fatalf("frame %d exported %s for track %d in state %v", i, ev.Category, ev.TrackID, states[ev.TrackID])
			}
		}
	}
	if !sawCaution {
		t.Fatalf("parked phase never reached caution")
	}
}

func TestCheckZones(t *testing.T) {
	cfg := testConfig(t)
	if err := CheckZones(cfg); err != nil {
		t.Fatalf("valid zones: %v", err)
	}
	cfg.Zones.Tasks = map[string]string{"gate": filepath.Join(t.TempDir(), "missing.json")}
	var cfgErr *zones.ConfigError
	if err := CheckZones(cfg); !errors.As(err, &cfgErr) {
		t.Fatalf("missing task zones: %v", err)
	}
	cfg = testConfig(t)
	if err := os.WriteFile(cfg.Zones.Path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := CheckZones(cfg); !errors.As(err, &cfgErr) || cfgErr.Path != cfg.Zones.Path {
		t.Fatalf("corrupt zones: %v", err)
	}
}

func TestTasksAreIsolated(t *testing.T) {
	cfg := testConfig(t)
	eng, metricsStore, _ := newEngineForTest(cfg)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if _, err := eng.ProcessFrame(ctx, parkedCar("cam1", i)); err != nil {
			t.Fatalf("cam1 frame %d: %v", i, err)
		}
	}
	// the same track id on another camera starts from scratch
	out, err := eng.ProcessFrame(ctx, parkedCar("cam2", 0))
	if err != nil {
		t.Fatalf("cam2: %v", err)
	}
	if len(out.Result.Classifications) != 0 {
		t.Fatalf("cam2 inherited history: %+v", out.Result.Classifications)
	}
	out, _ = eng.ProcessFrame(ctx, parkedCar("cam2", 1))
	if len(out.Result.Classifications) != 1 || out.Result.Classifications[0].Dwell > 0.1 {
		t.Fatalf("cam2 classification: %+v", out.Result.Classifications)
	}
	tasks := eng.Tasks()
	if len(tasks) != 2 || tasks[0].TaskID != "cam1" || tasks[0].RunID == tasks[1].RunID {
		t.Fatalf("tasks: %+v", tasks)
	}
	if s, _ := metricsStore.Get("cam2"); s.Frames != 2 {
		t.Fatalf("cam2 frames: %d", s.Frames)
	}
}

func TestDuplicateFrameDropped(t *testing.T) {
	cfg := testConfig(t)
	eng, metricsStore, _ := newEngineForTest(cfg)
	ctx := context.Background()
	if _, err := eng.ProcessFrame(ctx, parkedCar("cam1", 5)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := eng.ProcessFrame(ctx, parkedCar("cam1", 5)); !errors.Is(err, ErrDuplicateFrame) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	s, _ := metricsStore.Get("cam1")
	if s.Frames != 1 || s.DuplicateFrames != 1 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestMissingZonesFailTask(t *testing.T) {
	cfg := testConfig(t)
	cfg.Zones.Tasks = map[string]string{"broken": filepath.Join(t.TempDir(), "missing.json")}
	eng, _, _ := newEngineForTest(cfg)
	_, err := eng.ProcessFrame(context.Background(), parkedCar("broken", 0))
	var cfgErr *zones.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected zone config error, got %v", err)
	}
	if tasks := eng.Tasks(); len(tasks) != 1 || tasks[0].Error == "" {
		t.Fatalf("tasks: %+v", tasks)
	}
	if _, err := eng.ProcessFrame(context.Background(), parkedCar("cam1", 0)); err != nil {
		t.Fatalf("healthy task: %v", err)
	}
}

func TestResetDropsTaskState(t *testing.T) {
	cfg := testConfig(t)
	eng, _, _ := newEngineForTest(cfg)
	ctx := context.Background()
	_, _ = eng.ProcessFrame(ctx, parkedCar("cam1", 0))
	_, _ = eng.ProcessFrame(ctx, parkedCar("cam1", 1))
	eng.Reset()
	if len(eng.Tasks()) != 0 {
		t.Fatalf("tasks survived reset")
	}
	// index 1 is new again after reset
	out, err := eng.ProcessFrame(ctx, parkedCar("cam1", 1))
	if err != nil || len(out.Result.Classifications) != 0 {
		t.Fatalf("after reset: %+v %v", out.Result, err)
	}
}

func TestStartRoutesToWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Frame.FrameSkip = false
	eng, metricsStore, _ := newEngineForTest(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan model.Frame, 16)
	eng.Start(ctx, in)
	for i := 0; i < 5; i++ {
		in <- parkedCar("a", i)
		in <- parkedCar("b", i)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a, okA := metricsStore.Get("a")
		b, okB := metricsStore.Get("b")
		if okA && okB && a.Frames == 5 && b.Frames == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	eng.Wait()
	a, _ := metricsStore.Get("a")
	b, _ := metricsStore.Get("b")
	if a.Frames != 5 || b.Frames != 5 {
		t.Fatalf("frames a=%d b=%d", a.Frames, b.Frames)
	}
}

func TestIntervalOpensOncePerPeriod(t *testing.T) {
	iv := NewInterval(5 * time.Second)
	if iv.Due(0) {
		t.Fatalf("first call must only start the period")
	}
	if iv.Due(4.99) {
		t.Fatalf("opened early")
	}
	if !iv.Due(5) {
		t.Fatalf("did not open after a full period")
	}
	if iv.Due(9) || !iv.Due(10.5) {
		t.Fatalf("period not restarted at opening")
	}
	if iv.Due(3) {
		t.Fatalf("backwards clock should restart the period")
	}
}

func TestDedupeCacheIsBounded(t *testing.T) {
	d := NewDedupeCache(2)
	if d.Seen(1) || d.Seen(2) || !d.Seen(1) {
		t.Fatalf("unexpected dedupe result")
	}
	d.Seen(3)
	if d.Len() != 2 || d.Seen(1) {
		t.Fatalf("oldest index should have been evicted")
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{"cam-1": "cam-1", "../etc": ".._etc", "..": "_", "a/b c": "a_b_c"}
	for in, want := range cases {
		if got := safeName(in); got != want {
			t.Fatalf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}
