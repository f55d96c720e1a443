package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"parkguard/internal/config"
	"parkguard/internal/model"
)

// Publisher forwards exported stop events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, events []model.StopEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per event keyed by task and track,
// so events of one track stay on one partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewKafka(cfg config.KafkaPublishConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("publish.kafka requires brokers and topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	if logger != nil {
		logger.Info("kafka publish enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return &KafkaPublisher{writer: w, topic: cfg.Topic, logger: logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, events []model.StopEvent) error {
	if p == nil || len(events) == 0 {
		return nil
	}
	msgs, err := Messages(events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		if p.logger != nil {
			p.logger.Warn("kafka publish failed", "topic", p.topic, "count", len(msgs), "err", err)
		}
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Messages renders events as kafka messages.
func Messages(events []model.StopEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(Key(ev)),
			Value: value,
			Headers: []kafka.Header{
				{Key: "category", Value: []byte(ev.Category)},
			},
		})
	}
	return msgs, nil
}

func Key(ev model.StopEvent) string {
	return ev.TaskID + "/" + strconv.Itoa(ev.TrackID)
}
