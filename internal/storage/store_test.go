package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/model"
)

func TestNewStoreDisabledAndUnsupported(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || s != nil {
		t.Fatalf("disabled store: %v %v", s, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "mysql"}); !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("unsupported driver: %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db")
	s, err := NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []model.StopEvent{
		{TaskID: "cam1", RunID: "r1", TrackID: 4, Category: model.CategoryPark, StopSeconds: 12.5, ZoneID: 1, FrameTime: 30, FrameIndex: 750, ExportedAt: at},
		{TaskID: "cam2", RunID: "r2", TrackID: 9, Category: model.CategoryStop, StopSeconds: 6, ZoneID: 2, FrameTime: 8, FrameIndex: 200, ExportedAt: at},
		{TaskID: "cam1", RunID: "r1", TrackID: 5, Category: model.CategoryStop, StopSeconds: 7, ZoneID: 1, FrameTime: 31, FrameIndex: 775, ExportedAt: at},
	}
	if err := s.SaveEvents(ctx, events); err != nil {
		t.Fatalf("save events: %v", err)
	}
	if err := s.SaveTaskStats(ctx, model.TaskStats{TaskID: "cam1", RunID: "r1", Frames: 775}); err != nil {
		t.Fatalf("save stats: %v", err)
	}
	got, err := s.ListEvents(ctx, "cam1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].TrackID != 5 || got[1].TrackID != 4 {
		t.Fatalf("list order: %+v", got)
	}
	if got[1].Category != model.CategoryPark || got[1].StopSeconds != 12.5 || got[1].FrameIndex != 750 {
		t.Fatalf("event fields: %+v", got[1])
	}
	all, err := s.ListEvents(ctx, "", 1)
	if err != nil || len(all) != 1 {
		t.Fatalf("limit: %v %v", all, err)
	}
}
