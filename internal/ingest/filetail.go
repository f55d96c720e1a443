package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/model"
)

func StartFileTail(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		path := path
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, parser, out, logger)
	}
}

// tailFile follows a JSON-lines file. A file that shrinks is treated as
// truncated and reopened from the start.
func tailFile(ctx context.Context, path string, startAtEnd bool, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// only the first open skips existing content
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		var pending []byte
		for {
			chunk, err := reader.ReadBytes('\n')
			if len(chunk) > 0 {
				offset += int64(len(chunk))
				pending = append(pending, chunk...)
			}
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			handleLine(ctx, parser, out, logger, pending, "file_tail")
			pending = pending[:0]
		}
	}
}
