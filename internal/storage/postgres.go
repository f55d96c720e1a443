package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/parkguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, bind: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS stop_events (
			id BIGSERIAL PRIMARY KEY,
			exported_at TIMESTAMPTZ NOT NULL,
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			track_id INTEGER NOT NULL,
			category TEXT NOT NULL,
			stop_seconds DOUBLE PRECISION NOT NULL,
			zone_id INTEGER NOT NULL,
			frame_time DOUBLE PRECISION NOT NULL,
			frame_index BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_task ON stop_events(task_id, track_id)`,
		`CREATE TABLE IF NOT EXISTS task_stats (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			frames BIGINT NOT NULL,
			objects BIGINT NOT NULL,
			caution BIGINT NOT NULL,
			violation BIGINT NOT NULL,
			exported BIGINT NOT NULL,
			export_errors BIGINT NOT NULL,
			evictions_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_stats_task ON task_stats(task_id, ts)`,
	})
}
