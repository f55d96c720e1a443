package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"parkguard/internal/config"
	"parkguard/internal/model"
	"parkguard/internal/normalize"
)

// Parser turns raw JSON payloads into normalised frames using the current
// configuration snapshot.
type Parser struct {
	cfg    *config.Manager
	logger *slog.Logger
}

func NewParser(cfg *config.Manager, logger *slog.Logger) *Parser {
	return &Parser{cfg: cfg, logger: logger}
}

// ParseLine decodes one JSON frame. Blank lines return ok=false and no error.
func (p *Parser) ParseLine(line []byte, source string) (model.Frame, bool, error) {
	return p.ParseKeyed(line, source, "")
}

// ParseKeyed is ParseLine with a task id used when the frame carries none.
// Kafka ingest passes the message key.
func (p *Parser) ParseKeyed(line []byte, source, taskID string) (model.Frame, bool, error) {
	trim := bytes.TrimSpace(line)
	if len(trim) == 0 {
		return model.Frame{}, false, nil
	}
	fields, err := ParseFrameJSON(trim)
	if err != nil {
		return model.Frame{}, false, fmt.Errorf("%w: %v", normalize.ErrInvalidFrame, err)
	}
	if strings.TrimSpace(fields.TaskID) == "" {
		fields.TaskID = taskID
	}
	frame, err := p.normalize(fields, source)
	if err != nil {
		return model.Frame{}, false, err
	}
	return frame, true, nil
}

// ParseBatch decodes a single frame object or an array of frames. Frames
// that fail are reported in errs and skipped.
func (p *Parser) ParseBatch(body []byte, source string) (frames []model.Frame, errs []error, err error) {
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		return nil, nil, fmt.Errorf("%w: empty body", normalize.ErrInvalidFrame)
	}
	if !looksLikeJSON(string(trim)) {
		return nil, nil, fmt.Errorf("%w: body is not JSON", normalize.ErrInvalidFrame)
	}
	if trim[0] != '[' {
		frame, ok, err := p.ParseLine(trim, source)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			frames = append(frames, frame)
		}
		return frames, nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trim, &list); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", normalize.ErrInvalidFrame, err)
	}
	for i, raw := range list {
		frame, ok, err := p.ParseLine(raw, source)
		if err != nil {
			errs = append(errs, fmt.Errorf("frame %d: %w", i, err))
			continue
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	return frames, errs, nil
}

func (p *Parser) normalize(fields normalize.FrameFields, source string) (model.Frame, error) {
	frame, skipped, err := normalize.Normalize(fields, p.cfg.Get())
	if err != nil {
		return model.Frame{}, err
	}
	frame.Rejected = len(skipped)
	if p.logger != nil {
		for _, e := range skipped {
			p.logger.Warn("object skipped", "source", source, "task_id", frame.TaskID, "frame_index", frame.Index, "err", e)
		}
	}
	return frame, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}
