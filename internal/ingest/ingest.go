package ingest

import (
	"context"
	"log/slog"
	"time"

	"parkguard/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Frame, frame model.Frame, logger *slog.Logger) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("frame channel full, dropping frame", "task_id", frame.TaskID, "frame_index", frame.Index)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleLine parses one JSON line and forwards the frame. Parse failures
// are logged and dropped.
func handleLine(ctx context.Context, parser *Parser, out chan<- model.Frame, logger *slog.Logger, line []byte, source string) {
	handleKeyed(ctx, parser, out, logger, line, source, "")
}

func handleKeyed(ctx context.Context, parser *Parser, out chan<- model.Frame, logger *slog.Logger, line []byte, source, taskID string) {
	frame, ok, err := parser.ParseKeyed(line, source, taskID)
	if err != nil {
		if logger != nil {
			logger.Warn("frame rejected", "source", source, "err", err)
		}
		return
	}
	if !ok {
		return
	}
	SendNonBlocking(ctx, out, frame, logger)
}
