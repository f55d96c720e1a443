package ingest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/model"
	"parkguard/internal/normalize"
)

func testParser() *Parser {
	return NewParser(config.NewStaticManager(config.DefaultConfig()), nil)
}

func TestParseFrameJSONAliases(t *testing.T) {
	line := `{"Camera":"cam7","frame":12,"ts":"0.48","width":640,"height":360,
		"detections":[{"box":[1,2,30,40],"id":4,"cls":2,"score":0.9},{"bbox":"bad","track_id":5}]}`
	fields, err := ParseFrameJSON([]byte(line))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.TaskID != "cam7" || fields.FrameIndex == nil || *fields.FrameIndex != 12 {
		t.Fatalf("frame fields: %+v", fields)
	}
	if fields.Timestamp != "0.48" || fields.Width != 640 {
		t.Fatalf("timestamp/size: %+v", fields)
	}
	if len(fields.Objects) != 2 {
		t.Fatalf("objects: %d", len(fields.Objects))
	}
	obj := fields.Objects[0]
	if obj.TrackID == nil || *obj.TrackID != 4 || obj.ClassID != 2 || *obj.Confidence != 0.9 || len(obj.BBox) != 4 {
		t.Fatalf("object: %+v", obj)
	}
	if fields.Objects[1].BBox != nil {
		t.Fatalf("bad bbox should stay empty: %v", fields.Objects[1].BBox)
	}
}

func TestParseFrameJSONNumericTimestamp(t *testing.T) {
	fields, err := ParseFrameJSON([]byte(`{"frame_index":1,"timestamp":12.5}`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "12.5" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if _, err := ParseFrameJSON([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object")
	}
}

func TestParserParseLine(t *testing.T) {
	p := testParser()
	if _, ok, err := p.ParseLine([]byte("   \n"), "test"); ok || err != nil {
		t.Fatalf("blank line: ok=%v err=%v", ok, err)
	}
	frame, ok, err := p.ParseLine([]byte(`{"task_id":"cam1","frame_index":3,"timestamp":0.12,"objects":[{"bbox":[0,0,10,10],"track_id":1,"class_id":2},{"bbox":[0,0,10,10]}]}`), "test")
	if err != nil || !ok {
		t.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if frame.TaskID != "cam1" || frame.Index != 3 || len(frame.Objects) != 1 || frame.Rejected != 1 {
		t.Fatalf("frame: %+v", frame)
	}
	if _, _, err := p.ParseLine([]byte(`{"task_id":"cam1"`), "test"); !errors.Is(err, normalize.ErrInvalidFrame) {
		t.Fatalf("truncated json: %v", err)
	}
}

func TestParserParseKeyedFallsBackToKey(t *testing.T) {
	p := testParser()
	frame, _, err := p.ParseKeyed([]byte(`{"frame_index":1}`), "kafka", "gate-3")
	if err != nil || frame.TaskID != "gate-3" {
		t.Fatalf("keyed: %+v %v", frame, err)
	}
	frame, _, _ = p.ParseKeyed([]byte(`{"task_id":"cam1","frame_index":1}`), "kafka", "gate-3")
	if frame.TaskID != "cam1" {
		t.Fatalf("frame task id should win: %q", frame.TaskID)
	}
}

func TestParserParseBatch(t *testing.T) {
	p := testParser()
	body := `[{"frame_index":1},{"frame_index":-1},{"frame_index":2}]`
	frames, errs, err := p.ParseBatch([]byte(body), "test")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(frames) != 2 || len(errs) != 1 {
		t.Fatalf("frames=%d errs=%d", len(frames), len(errs))
	}
	if _, _, err := p.ParseBatch([]byte("frame_index=1"), "test"); err == nil {
		t.Fatalf("expected error for non-json body")
	}
}

func TestRESTFrames(t *testing.T) {
	out := make(chan model.Frame, 1)
	srv := NewRESTServer(context.Background(), testParser(), out, nil)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frames", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader(`[{"frame_index":1},{"frame_index":2}]`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"accepted":1`) || !strings.Contains(rec.Body.String(), `"dropped":1`) {
		t.Fatalf("body: %s", rec.Body.String())
	}
	if got := <-out; got.Index != 1 {
		t.Fatalf("frame index: %d", got.Index)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid frame status: %d", rec.Code)
	}
}

func TestTCPStreamConn(t *testing.T) {
	out := make(chan model.Frame, 4)
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		handleTCPStreamConn(context.Background(), server, testParser(), out, nil)
		close(done)
	}()
	_, _ = client.Write([]byte("{\"frame_index\":1}\nnot json\n\n{\"frame_index\":2}\n"))
	_ = client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection handler did not return")
	}
	if len(out) != 2 {
		t.Fatalf("frames: %d", len(out))
	}
}
