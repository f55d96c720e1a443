package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"parkguard/internal/bounded"
	"parkguard/internal/pacer"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Frame     FrameConfig     `json:"frame" yaml:"frame"`
	Grid      GridConfig      `json:"grid" yaml:"grid"`
	Zones     ZonesConfig     `json:"zones" yaml:"zones"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Export    ExportConfig    `json:"export" yaml:"export"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Publish   PublishConfig   `json:"publish" yaml:"publish"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Events    EventsConfig    `json:"events" yaml:"events"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	TaskBuffer    int             `json:"task_buffer" yaml:"task_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	DefaultTaskID string `json:"default_task_id" yaml:"default_task_id"`
}

// FrameConfig is the processing frame size. Incoming boxes and zone points
// are rescaled to it.
type FrameConfig struct {
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	FPS    float64 `json:"fps" yaml:"fps"`
	// PacerMode is average, delta or fixed.
	PacerMode string `json:"pacer_mode" yaml:"pacer_mode"`
	// FrameSkip drops queued frames of a task when processing falls behind.
	FrameSkip bool `json:"frame_skip" yaml:"frame_skip"`
}

type GridConfig struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`
}

type ZonesConfig struct {
	// Path is the zone file used by every task without its own entry.
	Path  string            `json:"path" yaml:"path"`
	Tasks map[string]string `json:"tasks" yaml:"tasks"`
	// DefaultParkSeconds applies to shapes without flags.
	DefaultParkSeconds float64 `json:"default_park_seconds" yaml:"default_park_seconds"`
}

type DetectionConfig struct {
	TargetClasses     []int   `json:"target_classes" yaml:"target_classes"`
	AlarmSeconds      float64 `json:"alarm_seconds" yaml:"alarm_seconds"`
	NearZeroAmplitude float64 `json:"near_zero_amplitude" yaml:"near_zero_amplitude"`
	MotionWindow      int     `json:"motion_window" yaml:"motion_window"`
	MaxTracks         int     `json:"max_tracks" yaml:"max_tracks"`
	EvictionPolicy    string  `json:"eviction_policy" yaml:"eviction_policy"`
	ActivityReset     int     `json:"activity_reset" yaml:"activity_reset"`
	// MinBBoxAreaRatio drops boxes smaller than ratio x sector area. Unset
	// picks the ratio from the grid size, 0 disables the filter.
	MinBBoxAreaRatio *float64 `json:"min_bbox_area_ratio,omitempty" yaml:"min_bbox_area_ratio,omitempty"`
	// DedupeFrames is how many recent frame indexes per task are remembered
	// to drop duplicates.
	DedupeFrames int `json:"dedupe_frames" yaml:"dedupe_frames"`
}

type ExportConfig struct {
	OutputDir     string         `json:"output_dir" yaml:"output_dir"`
	Interval      time.Duration  `json:"interval" yaml:"interval"`
	IndexCapacity int            `json:"index_capacity" yaml:"index_capacity"`
	JPEGQuality   int            `json:"jpeg_quality" yaml:"jpeg_quality"`
	Stop          CategoryConfig `json:"stop" yaml:"stop"`
	Park          CategoryConfig `json:"park" yaml:"park"`
}

type CategoryConfig struct {
	MinSeconds float64 `json:"min_seconds" yaml:"min_seconds"`
	WriteJSON  bool    `json:"write_json" yaml:"write_json"`
	WriteCrops bool    `json:"write_crops" yaml:"write_crops"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type PublishConfig struct {
	Kafka KafkaPublishConfig `json:"kafka" yaml:"kafka"`
}

type KafkaPublishConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			TaskBuffer:    64,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{DefaultTaskID: "default"},
		},
		Frame: FrameConfig{Width: 1280, Height: 720, FPS: 25, PacerMode: pacer.ModeAverage, FrameSkip: true},
		Grid:  GridConfig{Rows: 32, Cols: 32},
		Zones: ZonesConfig{Path: "regions.json"},
		Detection: DetectionConfig{
			TargetClasses:     []int{2, 3, 5, 7},
			AlarmSeconds:      1.5,
			NearZeroAmplitude: 0.02,
			MotionWindow:      3,
			MaxTracks:         1000,
			EvictionPolicy:    string(bounded.PolicyFIFO),
			ActivityReset:     1000,
			DedupeFrames:      256,
		},
		Export: ExportConfig{
			OutputDir:     "Results",
			Interval:      5 * time.Second,
			IndexCapacity: 1000,
			JPEGQuality:   90,
			Stop:          CategoryConfig{MinSeconds: 5, WriteJSON: false, WriteCrops: false},
			Park:          CategoryConfig{MinSeconds: 10, WriteJSON: true, WriteCrops: true},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:parkguard.db?_pragma=busy_timeout(5000)"},
		Publish: PublishConfig{Kafka: KafkaPublishConfig{Enabled: false, BatchTimeout: 50 * time.Millisecond}},
		Metrics: MetricsConfig{StoreLimit: 1000},
		Events:  EventsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
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

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1024
	}
	if cfg.Ingest.TaskBuffer <= 0 {
		cfg.Ingest.TaskBuffer = 64
	}
	if cfg.Ingest.Parser.DefaultTaskID == "" {
		cfg.Ingest.Parser.DefaultTaskID = "default"
	}
	if cfg.Frame.Width <= 0 || cfg.Frame.Height <= 0 {
		cfg.Frame.Width, cfg.Frame.Height = 1280, 720
	}
	if cfg.Frame.FPS <= 0 {
		cfg.Frame.FPS = pacer.DefaultFPS
	}
	if cfg.Frame.PacerMode == "" {
		cfg.Frame.PacerMode = pacer.ModeAverage
	}
	if cfg.Grid.Rows <= 0 {
		cfg.Grid.Rows = 32
	}
	if cfg.Grid.Cols <= 0 {
		cfg.Grid.Cols = 32
	}
	if cfg.Detection.AlarmSeconds <= 0 {
		cfg.Detection.AlarmSeconds = 1.5
	}
	if cfg.Detection.NearZeroAmplitude <= 0 {
		cfg.Detection.NearZeroAmplitude = 0.02
	}
	if cfg.Detection.MotionWindow < 2 {
		cfg.Detection.MotionWindow = 3
	}
	if cfg.Detection.MaxTracks <= 0 {
		cfg.Detection.MaxTracks = 1000
	}
	if cfg.Detection.EvictionPolicy == "" {
		cfg.Detection.EvictionPolicy = string(bounded.PolicyFIFO)
	}
	if cfg.Detection.ActivityReset <= 0 {
		cfg.Detection.ActivityReset = 1000
	}
	if cfg.Detection.DedupeFrames <= 0 {
		cfg.Detection.DedupeFrames = 256
	}
	if cfg.Export.OutputDir == "" {
		cfg.Export.OutputDir = "Results"
	}
	if cfg.Export.Interval <= 0 {
		cfg.Export.Interval = 5 * time.Second
	}
	if cfg.Export.IndexCapacity <= 0 {
		cfg.Export.IndexCapacity = 1000
	}
	if cfg.Export.JPEGQuality <= 0 || cfg.Export.JPEGQuality > 100 {
		cfg.Export.JPEGQuality = 90
	}
	if cfg.Publish.Kafka.BatchTimeout <= 0 {
		cfg.Publish.Kafka.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 1000
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Publish.Kafka.Enabled {
		if len(cfg.Publish.Kafka.Brokers) == 0 || cfg.Publish.Kafka.Topic == "" {
			return errors.New("publish.kafka requires brokers and topic")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
		}
	}
	if cfg.Zones.Path == "" && len(cfg.Zones.Tasks) == 0 {
		return errors.New("zones.path or zones.tasks required")
	}
	if cfg.Zones.DefaultParkSeconds < 0 {
		return errors.New("zones.default_park_seconds must be >= 0")
	}
	if _, err := bounded.ParsePolicy(cfg.Detection.EvictionPolicy); err != nil {
		return fmt.Errorf("detection.eviction_policy: %w", err)
	}
	if _, err := pacer.ParseMode(cfg.Frame.PacerMode); err != nil {
		return fmt.Errorf("frame.pacer_mode: %w", err)
	}
	if r := cfg.Detection.MinBBoxAreaRatio; r != nil && *r < 0 {
		return errors.New("detection.min_bbox_area_ratio must be >= 0")
	}
	for _, class := range cfg.Detection.TargetClasses {
		if class < 0 {
			return fmt.Errorf("detection.target_classes contains negative class: %d", class)
		}
	}
	if cfg.Export.Stop.MinSeconds < 0 || cfg.Export.Park.MinSeconds < 0 {
		return errors.New("export min_seconds must be >= 0")
	}
	return nil
}

// BBoxAreaRatio is the small-box filter ratio in effect. Without an explicit
// value grids wider than 16 columns use 5, exactly 16 columns use 1.2 and
// coarser grids do not filter.
func (c *Config) BBoxAreaRatio() float64 {
	if r := c.Detection.MinBBoxAreaRatio; r != nil {
		return *r
	}
	switch {
	case c.Grid.Cols > 16:
		return 5
	case c.Grid.Cols == 16:
		return 1.2
	}
	return 0
}

// ZonePath returns the zone file for taskID.
func (c *Config) ZonePath(taskID string) string {
	if p, ok := c.Zones.Tasks[taskID]; ok && p != "" {
		return p
	}
	return c.Zones.Path
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves cfg without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the file's modification time and reloads it. Reloads affect
// tasks created afterwards; running tasks keep their snapshot.
func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
