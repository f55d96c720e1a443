package events

import (
	"sync"
	"time"

	"parkguard/internal/model"
)

// Store keeps the most recent exported stop events, oldest first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.StopEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(events ...model.StopEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if len(s.buf) < s.limit {
			s.buf = append(s.buf, ev)
			continue
		}
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = ev
	}
}

// List returns the newest limit events. limit <= 0 returns all of them.
func (s *Store) List(limit int) []model.StopEvent {
	return s.filter("", limit)
}

// ForTask is List restricted to one task.
func (s *Store) ForTask(taskID string, limit int) []model.StopEvent {
	return s.filter(taskID, limit)
}

func (s *Store) filter(taskID string, limit int) []model.StopEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StopEvent, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if taskID != "" && s.buf[i].TaskID != taskID {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.StopEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StopEvent, 0)
	for _, ev := range s.buf {
		if !ev.ExportedAt.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
