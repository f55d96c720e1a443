package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:parkguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, bind: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS stop_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			exported_at DATETIME NOT NULL,
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			track_id INTEGER NOT NULL,
			category TEXT NOT NULL,
			stop_seconds REAL NOT NULL,
			zone_id INTEGER NOT NULL,
			frame_time REAL NOT NULL,
			frame_index INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_task ON stop_events(task_id, track_id)`,
		`CREATE TABLE IF NOT EXISTS task_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			frames INTEGER NOT NULL,
			objects INTEGER NOT NULL,
			caution INTEGER NOT NULL,
			violation INTEGER NOT NULL,
			exported INTEGER NOT NULL,
			export_errors INTEGER NOT NULL,
			evictions_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_stats_task ON task_stats(task_id, ts)`,
	})
}
