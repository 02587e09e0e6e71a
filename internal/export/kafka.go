package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/pkg/metrics"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaExporter.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaExporter publishes results as JSON, keyed by building.
type KafkaExporter struct {
	logger  *slog.Logger
	writer  MessageWriter
	metrics *metrics.ReplayMetrics
}

// NewKafkaExporter creates an exporter on top of writer.
func NewKafkaExporter(logger *slog.Logger, writer MessageWriter, m *metrics.ReplayMetrics) *KafkaExporter {
	return &KafkaExporter{
		logger:  logger,
		writer:  writer,
		metrics: m,
	}
}

func newKafkaWriter(logger *slog.Logger, brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}
}

// Export implements Exporter.
func (e *KafkaExporter) Export(ctx context.Context, result replay.TickResult) (err error) {
	defer func() { count(e.metrics, KindKafka, err) }()

	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode tick: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.Itoa(result.BuildingID)),
		Value: value,
		Time:  result.Timestamp,
		Headers: []kafka.Header{
			{Key: "model_version", Value: []byte(result.ModelVersion)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write tick: %w", err)
	}
	return nil
}

// Close implements Exporter.
func (e *KafkaExporter) Close() error {
	return e.writer.Close()
}
