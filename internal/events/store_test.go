package events

import (
	"testing"
	"time"

	"parkguard/internal/model"
)

func TestStoreKeepsNewest(t *testing.T) {
	s := NewStore(3)
	for i := 1; i <= 5; i++ {
		s.Add(model.StopEvent{TaskID: "cam1", TrackID: i})
	}
	list := s.List(0)
	if len(list) != 3 || list[0].TrackID != 3 || list[2].TrackID != 5 {
		t.Fatalf("list: %+v", list)
	}
	if last := s.List(1); len(last) != 1 || last[0].TrackID != 5 {
		t.Fatalf("limit: %+v", last)
	}
}

func TestStoreForTaskAndSince(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Add(
		model.StopEvent{TaskID: "a", TrackID: 1, ExportedAt: base},
		model.StopEvent{TaskID: "b", TrackID: 2, ExportedAt: base.Add(time.Minute)},
		model.StopEvent{TaskID: "a", TrackID: 3, ExportedAt: base.Add(2 * time.Minute)},
	)
	got := s.ForTask("a", 0)
	if len(got) != 2 || got[0].TrackID != 1 || got[1].TrackID != 3 {
		t.Fatalf("for task: %+v", got)
	}
	if since := s.Since(base.Add(time.Minute)); len(since) != 2 {
		t.Fatalf("since: %+v", since)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("clear left %d events", s.Len())
	}
}
