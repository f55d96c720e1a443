package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parkguard/internal/api"
	"parkguard/internal/config"
	"parkguard/internal/engine"
	"parkguard/internal/events"
	"parkguard/internal/ingest"
	"parkguard/internal/logging"
	"parkguard/internal/metrics"
	"parkguard/internal/model"
	"parkguard/internal/publish"
	"parkguard/internal/storage"
)

var version = "dev"

var (
	configPath   = flag.String("config", "parkguard.yaml", "Path to the YAML or JSON config file")
	writeDefault = flag.String("write-default-config", "", "Write the default config to this path and exit")
	watchEvery   = flag.Duration("watch", 3*time.Second, "Config reload poll interval, 0 disables reloading")
)

func main() {
	flag.Parse()
	if *writeDefault != "" {
		if err := config.Save(*writeDefault, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parkguard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := config.ResolvePath(*configPath)
	manager, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("parkguard starting", "version", version, "config", path)
	if err := engine.CheckZones(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
	}

	var publisher publish.Publisher
	kafkaPub, err := publish.NewKafka(cfg.Publish.Kafka, logger)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if kafkaPub != nil {
		publisher = kafkaPub
		defer kafkaPub.Close()
	}

	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	eventsStore := events.NewStore(cfg.Events.StoreLimit)
	eng := engine.NewEngine(cfg, logger, metricsStore, eventsStore, store, publisher)

	frames := make(chan model.Frame, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, frames)

	parser := ingest.NewParser(manager, logger)
	ingest.StartREST(ctx, manager, parser, frames, logger)
	ingest.StartTCPStream(ctx, manager, parser, frames, logger)
	ingest.StartFileTail(ctx, manager, parser, frames, logger)
	ingest.StartKafka(ctx, manager, parser, frames, logger)
	var history api.EventHistory
	if store != nil {
		history = store
	}
	api.Start(ctx, manager, metricsStore, eventsStore, history, eng, logger, version)

	if *watchEvery > 0 {
		go manager.Watch(*watchEvery, func(next *config.Config) {
			eng.UpdateConfig(next)
			logger.Info("config reloaded", "config", path)
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, ctx.Done())
	}

	<-ctx.Done()
	logger.Info("parkguard stopping")
	eng.Wait()
	return nil
}
