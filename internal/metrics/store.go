package metrics

import (
	"sort"
	"sync"
	"time"

	"parkguard/internal/model"
)

// Store holds the latest TaskStats per task. When more than limit tasks are
// tracked the least recently updated one is dropped.
type Store struct {
	mu        sync.RWMutex
	byTask    map[string]model.TaskStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byTask:    make(map[string]model.TaskStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(stats model.TaskStats) {
	if stats.TaskID == "" {
		return
	}
	now := time.Now().UTC()
	if stats.UpdatedAt.IsZero() {
		stats.UpdatedAt = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTask[stats.TaskID] = stats
	s.updatedAt[stats.TaskID] = now
	if len(s.byTask) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(taskID string) (model.TaskStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.byTask[taskID]
	return stats, ok
}

// GetAll returns every task's stats ordered by task ID.
func (s *Store) GetAll() []model.TaskStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TaskStats, 0, len(s.byTask))
	for _, stats := range s.byTask {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Totals sums the counters of all tasks.
func (s *Store) Totals() model.TaskStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total model.TaskStats
	for _, st := range s.byTask {
		total.Frames += st.Frames
		total.DroppedFrames += st.DroppedFrames
		total.DuplicateFrames += st.DuplicateFrames
		total.Objects += st.Objects
		total.SkippedObjects += st.SkippedObjects
		total.Free += st.Free
		total.Caution += st.Caution
		total.Violation += st.Violation
		total.AlarmEvents += st.AlarmEvents
		total.Exported += st.Exported
		total.ExportErrors += st.ExportErrors
		total.Evictions = addEvictions(total.Evictions, st.Evictions)
		if st.UpdatedAt.After(total.UpdatedAt) {
			total.UpdatedAt = st.UpdatedAt
		}
	}
	return total
}

func addEvictions(a, b model.Evictions) model.Evictions {
	return model.Evictions{
		Dwell:      a.Dwell + b.Dwell,
		ColorStop:  a.ColorStop + b.ColorStop,
		StopTime:   a.StopTime + b.StopTime,
		AlarmCount: a.AlarmCount + b.AlarmCount,
		Marks:      a.Marks + b.Marks,
		Motion:     a.Motion + b.Motion,
		Crops:      a.Crops + b.Crops,
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTask)
}

func (s *Store) evictOldest() {
	var oldestTask string
	var oldest time.Time
	for task, ts := range s.updatedAt {
		if oldestTask == "" || ts.Before(oldest) {
			oldestTask = task
			oldest = ts
		}
	}
	if oldestTask != "" {
		delete(s.byTask, oldestTask)
		delete(s.updatedAt, oldestTask)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTask = make(map[string]model.TaskStats)
	s.updatedAt = make(map[string]time.Time)
}
