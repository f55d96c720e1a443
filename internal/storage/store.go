package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvents(ctx context.Context, events []model.StopEvent) error
	SaveTaskStats(ctx context.Context, stats model.TaskStats) error
	ListEvents(ctx context.Context, taskID string, limit int) ([]model.StopEvent, error)
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// baseStore carries the queries shared by both drivers. bind renders the
// n-th (1-based) placeholder.
type baseStore struct {
	db   *sql.DB
	bind func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) SaveEvents(ctx context.Context, events []model.StopEvent) error {
	if b.db == nil || len(events) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stop_events (exported_at, task_id, run_id, track_id, category, stop_seconds, zone_id, frame_time, frame_index)
		VALUES (`+b.placeholders(9)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		exported := ev.ExportedAt
		if exported.IsZero() {
			exported = nowUTC()
		}
		if _, err := stmt.ExecContext(ctx,
			exported.UTC(),
			ev.TaskID,
			ev.RunID,
			ev.TrackID,
			string(ev.Category),
			ev.StopSeconds,
			ev.ZoneID,
			ev.FrameTime,
			ev.FrameIndex,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) SaveTaskStats(ctx context.Context, stats model.TaskStats) error {
	if b.db == nil || stats.TaskID == "" {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO task_stats (ts, task_id, run_id, frames, objects, caution, violation, exported, export_errors, evictions_json)
		VALUES (`+b.placeholders(10)+`)`,
		nowUTC(),
		stats.TaskID,
		stats.RunID,
		stats.Frames,
		stats.Objects,
		stats.Caution,
		stats.Violation,
		stats.Exported,
		stats.ExportErrors,
		encodeJSON(stats.Evictions),
	)
	return err
}

// ListEvents returns the newest events first. An empty taskID matches all
// tasks.
func (b *baseStore) ListEvents(ctx context.Context, taskID string, limit int) ([]model.StopEvent, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT exported_at, task_id, run_id, track_id, category, stop_seconds, zone_id, frame_time, frame_index FROM stop_events`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ` + b.bind(1)
		args = append(args, taskID)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.StopEvent, 0)
	for rows.Next() {
		var ev model.StopEvent
		var category string
		if err := rows.Scan(&ev.ExportedAt, &ev.TaskID, &ev.RunID, &ev.TrackID, &category,
			&ev.StopSeconds, &ev.ZoneID, &ev.FrameTime, &ev.FrameIndex); err != nil {
			return nil, err
		}
		ev.Category = model.Category(category)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
