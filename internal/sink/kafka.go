package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/workpulse/risk-monitor/internal/models"
)

const kafkaWriteTimeout = 10 * time.Second

// KafkaSink publishes alerts to a Kafka topic so consumers other than the
// connected dashboards (pagers, data warehouse) can react to threshold
// crossings. Messages are keyed by alert type for per-type ordering.
type KafkaSink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaSink creates a sink writing to the given topic. Brokers is a
// comma-separated list. Writes are synchronous with leader acks.
func NewKafkaSink(brokers, topic string, logger *slog.Logger) (*KafkaSink, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: kafkaWriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	logger.Info("kafka alert sink configured",
		slog.Any("brokers", brokerList),
		slog.String("topic", topic))

	return &KafkaSink{writer: writer, logger: logger}, nil
}

// Publish writes one alert to the topic.
func (s *KafkaSink) Publish(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.Type),
		Value: payload,
		Time:  alert.Timestamp,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert to kafka: %w", err)
	}
	return nil
}

// Name identifies the sink in dispatcher logs.
func (s *KafkaSink) Name() string { return "kafka" }

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
