package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/detector"
	"parkguard/internal/engine"
	"parkguard/internal/events"
	"parkguard/internal/metrics"
	"parkguard/internal/model"
	"parkguard/internal/zones"
)

type EngineControl interface {
	Reset()
	Tasks() []engine.TaskInfo
	Zones(taskID string) (*zones.Set, bool)
	Activity(taskID string) ([]detector.SectorActivity, bool)
}

// EventHistory serves stop events persisted across restarts.
type EventHistory interface {
	ListEvents(ctx context.Context, taskID string, limit int) ([]model.StopEvent, error)
}

type Server struct {
	cfg     *config.Manager
	metrics *metrics.Store
	events  *events.Store
	history EventHistory
	engine  EngineControl
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string            `json:"status"`
	Time       string            `json:"time"`
	Version    string            `json:"version"`
	ConfigPath string            `json:"config_path"`
	Ingest     ingestStatus      `json:"ingest"`
	API        apiStatus         `json:"api"`
	Detection  detectionStatus   `json:"detection"`
	Tasks      []engine.TaskInfo `json:"tasks"`
	Totals     model.TaskStats   `json:"totals"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	Grid           [2]int  `json:"grid"`
	AlarmSeconds   float64 `json:"alarm_seconds"`
	MaxTracks      int     `json:"max_tracks"`
	EvictionPolicy string  `json:"eviction_policy"`
	PacerMode      string  `json:"pacer_mode"`
	ExportInterval string  `json:"export_interval"`
}

func NewServer(cfg *config.Manager, metricsStore *metrics.Store, eventsStore *events.Store, history EventHistory, eng EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		metrics: metricsStore,
		events:  eventsStore,
		history: history,
		engine:  eng,
		logger:  logger,
		version: version,
	}
}

func Start(ctx context.Context, cfg *config.Manager, metricsStore *metrics.Store, eventsStore *events.Store, history EventHistory, eng EngineControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, metricsStore, eventsStore, history, eng, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/", s.handleMetrics)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/zones", s.handleZones)
	mux.HandleFunc("/activity", s.handleActivity)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Detection: detectionStatus{
			Grid:           [2]int{cfg.Grid.Rows, cfg.Grid.Cols},
			AlarmSeconds:   cfg.Detection.AlarmSeconds,
			MaxTracks:      cfg.Detection.MaxTracks,
			EvictionPolicy: cfg.Detection.EvictionPolicy,
			PacerMode:      cfg.Frame.PacerMode,
			ExportInterval: cfg.Export.Interval.String(),
		},
		Tasks: []engine.TaskInfo{},
	}
	if s.engine != nil {
		resp.Tasks = s.engine.Tasks()
	}
	if s.metrics != nil {
		resp.Totals = s.metrics.Totals()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/metrics")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		stats, ok := s.metrics.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": all,
		"count": len(all),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	task := r.URL.Query().Get("task")
	sinceStr := r.URL.Query().Get("since")
	var list []model.StopEvent
	if r.URL.Query().Get("source") == "db" {
		if s.history == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "storage disabled"})
			return
		}
		stored, err := s.history.ListEvents(r.Context(), task, limit)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("list stored events failed", "err", err)
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		list = stored
	} else if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, ev := range s.events.Since(ts) {
			if task == "" || ev.TaskID == task {
				list = append(list, ev)
			}
		}
	} else {
		list = s.events.ForTask(task, limit)
	}
	if list == nil {
		list = []model.StopEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	task := r.URL.Query().Get("task")
	if task == "" || s.engine == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	set, ok := s.engine.Zones(task)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": task,
		"zones":   set,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	task := r.URL.Query().Get("task")
	if task == "" || s.engine == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	activity, ok := s.engine.Activity(task)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": task,
		"sectors": activity,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.metrics != nil {
			s.metrics.Clear()
		}
		if s.events != nil {
			s.events.Clear()
		}
	case "events":
		if s.events != nil {
			s.events.Clear()
		}
	case "metrics":
		if s.metrics != nil {
			s.metrics.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.logger != nil {
		s.logger.Info("api clear", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	if s.metrics != nil {
		s.metrics.Clear()
	}
	if s.events != nil {
		s.events.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
